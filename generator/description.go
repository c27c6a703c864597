package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"virtual_tryon/logging"
	"virtual_tryon/pool"
)

// DescriptionStage 生成模特文字描述；主路径失败时使用本地模板兜底，从不返回错误。
type DescriptionStage struct {
	llm  LLMClient
	pool *pool.Pool
	log  *slog.Logger
}

func NewDescriptionStage(llm LLMClient, p *pool.Pool) (*DescriptionStage, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	if p == nil {
		return nil, errors.New("worker pool is required")
	}
	return &DescriptionStage{llm: llm, pool: p, log: logging.New("describe")}, nil
}

// Describe returns the primary description verbatim, or the local fallback
// when the primary call fails for any reason.
func (d *DescriptionStage) Describe(ctx context.Context, spec ModelSpecification) Description {
	text, err := pool.Do(ctx, d.pool, func(ctx context.Context) (string, error) {
		raw, err := d.llm.Complete(ctx, BuildDescriptionPrompt(spec))
		if err != nil {
			return "", err
		}
		return parseDescription(raw)
	})
	if err == nil {
		d.log.Info("description generated")
		return Description{Text: text}
	}

	d.log.Warn("description generation failed, using fallback template", "error", err)
	return Description{Text: FallbackDescription(spec), Fallback: true, Cause: err}
}

// BMI computes body-mass index from centimetres and kilograms.
func BMI(heightCM, weightKG float64) float64 {
	m := heightCM / 100
	return weightKG / (m * m)
}

// BodyDescriptor maps a BMI onto a build phrase. Lower bounds are inclusive.
func BodyDescriptor(bmi float64) string {
	switch {
	case math.IsNaN(bmi) || bmi < 18.5:
		return "slim and elegant"
	case bmi < 24:
		return "fit and well-proportioned"
	case bmi < 28:
		return "curvy and attractive"
	default:
		return "plus-size and confident"
	}
}

func baseClothing(spec ModelSpecification) string {
	if spec.IsFemale() {
		return "wearing a simple white fitted t-shirt and basic blue jeans"
	}
	return "wearing a simple white t-shirt and basic dark jeans"
}

// FallbackDescription 本地模板，纯函数，不会失败。
func FallbackDescription(spec ModelSpecification) string {
	body := BodyDescriptor(BMI(float64(spec.Height), float64(spec.Weight)))
	return fmt.Sprintf(
		"A confident %d-year-old %s %s model, %dcm tall with a %s build, %s, standing naturally with excellent posture, professional studio lighting, clean neutral background.",
		spec.Age, spec.Nationality, spec.Gender, spec.Height, body, baseClothing(spec),
	)
}
