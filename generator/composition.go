package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"virtual_tryon/artifact"
	"virtual_tryon/logging"
	"virtual_tryon/pool"
)

// ComposeRequest 合成阶段输入：模特图、服装图以及取景/角度/姿势/场景。
type ComposeRequest struct {
	ModelPath   string
	GarmentPath string
	ShotType    ShotType
	Angle       Angle
	Pose        string
	Scene       string
}

// CompositionStage dresses the generated model in the garment with one
// image-edit call.
type CompositionStage struct {
	agent  *Agent
	images ImageClient
	pool   *pool.Pool
	sink   materializer
	opts   ImageOptions
	log    *slog.Logger
}

// NewCompositionStage wires the stage. client may be nil for a default with a 60s timeout.
func NewCompositionStage(agent *Agent, images ImageClient, p *pool.Pool, store *artifact.Store, opts ImageOptions, client *http.Client) (*CompositionStage, error) {
	if agent == nil {
		return nil, errors.New("planning agent is required")
	}
	if images == nil {
		return nil, errors.New("image client is required")
	}
	if p == nil || store == nil {
		return nil, errors.New("worker pool and artifact store are required")
	}
	return &CompositionStage{
		agent:  agent,
		images: images,
		pool:   p,
		sink:   newMaterializer(p, store, client),
		opts:   opts.withDefaults(),
		log:    logging.New("compose"),
	}, nil
}

// Compose plans the prompt, runs the edit, and stores the composite. The
// returned output carries the artifact path directly.
func (c *CompositionStage) Compose(ctx context.Context, req ComposeRequest) (StageOutput, error) {
	modelImg, err := readSource(req.ModelPath)
	if err != nil {
		return StageOutput{}, err
	}
	garmentImg, err := readSource(req.GarmentPath)
	if err != nil {
		return StageOutput{}, err
	}

	plan, err := c.agent.Plan(ctx, req)
	if err != nil {
		return StageOutput{}, err
	}
	c.log.Info("edit prompt planned", "shot", req.ShotType, "angle", req.Angle, "translated", plan.Translated)

	payload, err := pool.Do(ctx, c.pool, func(ctx context.Context) (ImagePayload, error) {
		return c.images.EditImage(ctx, EditRequest{
			Images:  []SourceImage{modelImg, garmentImg},
			Prompt:  plan.Prompt,
			Size:    c.opts.Size,
			Quality: c.opts.Quality,
		})
	})
	if err != nil {
		return StageOutput{}, fmt.Errorf("edit image: %w", err)
	}

	path, err := c.sink.save(ctx, "merge garment onto model", payload, artifact.KindComposite, true)
	if err != nil {
		return StageOutput{}, err
	}
	c.log.Info("composite saved", "path", path)
	return StageOutput{Path: path}, nil
}

func readSource(path string) (SourceImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SourceImage{}, fmt.Errorf("read source image: %w", err)
	}
	return SourceImage{Name: filepath.Base(path), Data: data}, nil
}
