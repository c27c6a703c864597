package generator

import (
	"errors"
	"fmt"
	"strings"
)

// ShotType 取景方式。
type ShotType string

const (
	ShotFullBody ShotType = "full_body"
	ShotHalfBody ShotType = "half_body"
)

// Angle 拍摄角度。
type Angle string

const (
	AngleFront Angle = "front"
	AngleSide  Angle = "side"
)

// CameraSettings groups the composition framing options.
type CameraSettings struct {
	ShotType ShotType `json:"shot_type" yaml:"shot_type"`
	Angle    Angle    `json:"angle" yaml:"angle"`
}

// ModelSpecification describes the model to generate. Gender is free text;
// "female", "male" and "other" are the expected values.
type ModelSpecification struct {
	Gender      string         `json:"gender"`
	Age         int            `json:"age"`
	Nationality string         `json:"nationality"`
	Height      int            `json:"height"` // cm
	Weight      int            `json:"weight"` // kg
	Camera      CameraSettings `json:"camera"`
	Action      string         `json:"action_description,omitempty"`
	Scene       string         `json:"scene_description,omitempty"`
}

// DefaultModelSpecification 与前端默认值保持一致。
func DefaultModelSpecification() ModelSpecification {
	return ModelSpecification{
		Gender:      "female",
		Age:         25,
		Nationality: "Chinese",
		Height:      170,
		Weight:      60,
		Camera:      CameraSettings{ShotType: ShotFullBody, Angle: AngleFront},
	}
}

// Normalize fills zero fields with defaults and canonicalizes enum casing.
func (s ModelSpecification) Normalize() ModelSpecification {
	def := DefaultModelSpecification()
	s.Gender = strings.TrimSpace(s.Gender)
	if s.Gender == "" {
		s.Gender = def.Gender
	}
	if s.Age == 0 {
		s.Age = def.Age
	}
	s.Nationality = strings.TrimSpace(s.Nationality)
	if s.Nationality == "" {
		s.Nationality = def.Nationality
	}
	if s.Height == 0 {
		s.Height = def.Height
	}
	if s.Weight == 0 {
		s.Weight = def.Weight
	}
	s.Camera.ShotType = ShotType(strings.ToLower(strings.TrimSpace(string(s.Camera.ShotType))))
	if s.Camera.ShotType == "" {
		s.Camera.ShotType = def.Camera.ShotType
	}
	s.Camera.Angle = Angle(strings.ToLower(strings.TrimSpace(string(s.Camera.Angle))))
	if s.Camera.Angle == "" {
		s.Camera.Angle = def.Camera.Angle
	}
	s.Action = strings.TrimSpace(s.Action)
	s.Scene = strings.TrimSpace(s.Scene)
	return s
}

// Validate rejects values the stages cannot work with.
func (s ModelSpecification) Validate() error {
	var errs []error
	if s.Age <= 0 {
		errs = append(errs, fmt.Errorf("age must be positive, got %d", s.Age))
	}
	if s.Height <= 0 {
		errs = append(errs, fmt.Errorf("height must be positive, got %d", s.Height))
	}
	if s.Weight <= 0 {
		errs = append(errs, fmt.Errorf("weight must be positive, got %d", s.Weight))
	}
	switch s.Camera.ShotType {
	case ShotFullBody, ShotHalfBody:
	default:
		errs = append(errs, fmt.Errorf("unknown shot type %q", s.Camera.ShotType))
	}
	switch s.Camera.Angle {
	case AngleFront, AngleSide:
	default:
		errs = append(errs, fmt.Errorf("unknown angle %q", s.Camera.Angle))
	}
	return errors.Join(errs...)
}

// IsFemale reports whether the gender text reads as woman-presenting.
func (s ModelSpecification) IsFemale() bool {
	switch strings.ToLower(strings.TrimSpace(s.Gender)) {
	case "female", "woman":
		return true
	}
	return false
}

// Description 为描述阶段的产出。Fallback 为 true 时 Cause 记录主路径失败原因。
type Description struct {
	Text     string
	Fallback bool
	Cause    error
}

// StageOutput is what the composition stage hands to path resolution. Path
// is set when the stage wrote the artifact itself; Text carries free-form
// output otherwise.
type StageOutput struct {
	Path string
	Text string
}

// String returns the value resolution should inspect.
func (o StageOutput) String() string {
	if o.Path != "" {
		return o.Path
	}
	return o.Text
}
