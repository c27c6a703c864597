// Package mcpserver exposes the try-on pipeline as MCP tools.
package mcpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"virtual_tryon/artifact"
	"virtual_tryon/generator"
	"virtual_tryon/ingest"
	"virtual_tryon/logging"
	"virtual_tryon/pipeline"
)

// Pipeline is the orchestrator surface the tools call.
type Pipeline interface {
	Execute(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	GenerateModel(ctx context.Context, spec generator.ModelSpecification) (pipeline.Result, error)
}

type Checker interface {
	Check(ctx context.Context, path string) (generator.Verdict, error)
}

// Server wraps the MCP SDK server.
type Server struct {
	MCPServer *sdkmcp.Server

	pipe     Pipeline
	checker  Checker
	ingestor *ingest.Ingestor
	store    *artifact.Store
	log      *slog.Logger
}

func NewServer(pipe Pipeline, checker Checker, ingestor *ingest.Ingestor, store *artifact.Store, version string) (*Server, error) {
	if pipe == nil || checker == nil || ingestor == nil || store == nil {
		return nil, errors.New("mcpserver: pipeline, checker, ingestor and store are required")
	}
	s := &Server{
		MCPServer: sdkmcp.NewServer(&sdkmcp.Implementation{Name: "virtual-tryon", Version: version}, nil),
		pipe:      pipe,
		checker:   checker,
		ingestor:  ingestor,
		store:     store,
		log:       logging.New("mcp"),
	}
	s.registerTools()
	return s, nil
}

// Serve runs the server over stdin/stdout until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "generate_tryon",
		Description: "Generate a model wearing the given top garment. Runs describe, synthesize and compose; returns the model and final image artifacts.",
	}, s.handleGenerateTryOn)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "generate_model",
		Description: "Generate a studio model image from attributes only, without a garment.",
	}, s.handleGenerateModel)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "check_garment",
		Description: "Check whether an image shows a single top garment usable for try-on.",
	}, s.handleCheckGarment)
}

// --- Tool input/output types ---

type garmentInput struct {
	GarmentImage string `json:"garment_image,omitempty" jsonschema:"base64 or data URL of the garment image"`
	GarmentFile  string `json:"garment_file,omitempty" jsonschema:"local path of the garment image, used when garment_image is empty"`
}

type modelInput struct {
	Gender      string `json:"gender,omitempty" jsonschema:"female, male or other (default female)"`
	Age         int    `json:"age,omitempty" jsonschema:"age in years (default 25)"`
	Nationality string `json:"nationality,omitempty" jsonschema:"nationality or ethnicity (default Chinese)"`
	Height      int    `json:"height,omitempty" jsonschema:"height in cm (default 170)"`
	Weight      int    `json:"weight,omitempty" jsonschema:"weight in kg (default 60)"`
	ShotType    string `json:"shot_type,omitempty" jsonschema:"full_body or half_body (default full_body)"`
	Angle       string `json:"angle,omitempty" jsonschema:"front or side (default front)"`
	Pose        string `json:"pose,omitempty" jsonschema:"pose description, any language"`
	Scene       string `json:"scene,omitempty" jsonschema:"scene description, any language"`
}

type tryOnInput struct {
	GarmentImage string `json:"garment_image,omitempty" jsonschema:"base64 or data URL of the garment image"`
	GarmentFile  string `json:"garment_file,omitempty" jsonschema:"local path of the garment image, used when garment_image is empty"`
	Gender       string `json:"gender,omitempty" jsonschema:"female, male or other (default female)"`
	Age          int    `json:"age,omitempty" jsonschema:"age in years (default 25)"`
	Nationality  string `json:"nationality,omitempty" jsonschema:"nationality or ethnicity (default Chinese)"`
	Height       int    `json:"height,omitempty" jsonschema:"height in cm (default 170)"`
	Weight       int    `json:"weight,omitempty" jsonschema:"weight in kg (default 60)"`
	ShotType     string `json:"shot_type,omitempty" jsonschema:"full_body or half_body (default full_body)"`
	Angle        string `json:"angle,omitempty" jsonschema:"front or side (default front)"`
	Pose         string `json:"pose,omitempty" jsonschema:"pose description, any language"`
	Scene        string `json:"scene,omitempty" jsonschema:"scene description, any language"`
}

func (in tryOnInput) split() (garmentInput, modelInput) {
	return garmentInput{GarmentImage: in.GarmentImage, GarmentFile: in.GarmentFile},
		modelInput{
			Gender:      in.Gender,
			Age:         in.Age,
			Nationality: in.Nationality,
			Height:      in.Height,
			Weight:      in.Weight,
			ShotType:    in.ShotType,
			Angle:       in.Angle,
			Pose:        in.Pose,
			Scene:       in.Scene,
		}
}

type imageOutput struct {
	Path     string  `json:"image_path"`
	Filename string  `json:"filename"`
	SizeKB   float64 `json:"file_size_kb"`
	URL      string  `json:"image_url"`
}

type runOutput struct {
	RunID        string       `json:"run_id"`
	Description  string       `json:"description,omitempty"`
	FallbackUsed bool         `json:"fallback_used"`
	ModelImage   imageOutput  `json:"model_image"`
	FinalImage   *imageOutput `json:"final_image,omitempty"`
}

type checkOutput struct {
	Valid   bool   `json:"valid"`
	Message string `json:"error_message,omitempty"`
}

// --- Handlers ---

func (s *Server) handleGenerateTryOn(ctx context.Context, _ *sdkmcp.CallToolRequest, input tryOnInput) (*sdkmcp.CallToolResult, runOutput, error) {
	garment, model := input.split()
	encoded, err := garment.encoded()
	if err != nil {
		return nil, runOutput{}, err
	}
	res, err := s.pipe.Execute(ctx, pipeline.Request{GarmentImage: encoded, Spec: model.spec()})
	if err != nil {
		return nil, runOutput{}, fmt.Errorf("generate_tryon: %w", err)
	}
	out := toRunOutput(res)
	final := toImage(res.Final)
	out.FinalImage = &final
	return nil, out, nil
}

func (s *Server) handleGenerateModel(ctx context.Context, _ *sdkmcp.CallToolRequest, input modelInput) (*sdkmcp.CallToolResult, runOutput, error) {
	res, err := s.pipe.GenerateModel(ctx, input.spec())
	if err != nil {
		return nil, runOutput{}, fmt.Errorf("generate_model: %w", err)
	}
	return nil, toRunOutput(res), nil
}

func (s *Server) handleCheckGarment(ctx context.Context, _ *sdkmcp.CallToolRequest, input garmentInput) (*sdkmcp.CallToolResult, checkOutput, error) {
	encoded, err := input.encoded()
	if err != nil {
		return nil, checkOutput{}, err
	}
	path, err := s.ingestor.Ingest(encoded)
	if err != nil {
		return nil, checkOutput{}, err
	}
	defer func() {
		if err := s.store.Delete(path); err != nil {
			s.log.Warn("cleanup failed", "path", path, "error", err)
		}
	}()
	v, err := s.checker.Check(ctx, path)
	if err != nil {
		return nil, checkOutput{}, err
	}
	return nil, checkOutput{Valid: v.Valid, Message: v.Message}, nil
}

func (in garmentInput) encoded() (string, error) {
	if strings.TrimSpace(in.GarmentImage) != "" {
		return in.GarmentImage, nil
	}
	if in.GarmentFile == "" {
		return "", errors.New("garment_image or garment_file is required")
	}
	data, err := os.ReadFile(in.GarmentFile)
	if err != nil {
		return "", fmt.Errorf("read garment file: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (in modelInput) spec() generator.ModelSpecification {
	return generator.ModelSpecification{
		Gender:      in.Gender,
		Age:         in.Age,
		Nationality: in.Nationality,
		Height:      in.Height,
		Weight:      in.Weight,
		Camera: generator.CameraSettings{
			ShotType: generator.ShotType(in.ShotType),
			Angle:    generator.Angle(in.Angle),
		},
		Action: in.Pose,
		Scene:  in.Scene,
	}
}

func toRunOutput(res pipeline.Result) runOutput {
	return runOutput{
		RunID:        res.RunID,
		Description:  res.Description,
		FallbackUsed: res.FallbackUsed,
		ModelImage:   toImage(res.Model),
	}
}

func toImage(m artifact.Metadata) imageOutput {
	return imageOutput{Path: m.Path, Filename: m.Filename, SizeKB: m.SizeKB, URL: m.URL}
}
