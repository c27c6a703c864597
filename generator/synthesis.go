package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"virtual_tryon/artifact"
	"virtual_tryon/logging"
	"virtual_tryon/pool"
)

// SynthesisStage renders the model image from a description. It has no
// fallback; any failure aborts the run.
type SynthesisStage struct {
	images ImageClient
	pool   *pool.Pool
	store  *artifact.Store
	sink   materializer
	opts   ImageOptions
	log    *slog.Logger
}

// NewSynthesisStage wires the stage. client may be nil for a default with a 60s timeout.
func NewSynthesisStage(images ImageClient, p *pool.Pool, store *artifact.Store, opts ImageOptions, client *http.Client) (*SynthesisStage, error) {
	if images == nil {
		return nil, errors.New("image client is required")
	}
	if p == nil || store == nil {
		return nil, errors.New("worker pool and artifact store are required")
	}
	return &SynthesisStage{
		images: images,
		pool:   p,
		store:  store,
		sink:   newMaterializer(p, store, client),
		opts:   opts.withDefaults(),
		log:    logging.New("synthesize"),
	}, nil
}

// Synthesize generates, downloads or decodes, and stores the model image.
func (s *SynthesisStage) Synthesize(ctx context.Context, description string) (artifact.Metadata, error) {
	s.log.Info("generating model image", "size", s.opts.Size, "quality", s.opts.Quality)
	payload, err := pool.Do(ctx, s.pool, func(ctx context.Context) (ImagePayload, error) {
		return s.images.GenerateImage(ctx, ImageRequest{
			Prompt:  description,
			Size:    s.opts.Size,
			Quality: s.opts.Quality,
		})
	})
	if err != nil {
		return artifact.Metadata{}, fmt.Errorf("generate image: %w", err)
	}

	path, err := s.sink.save(ctx, "generate model image", payload, artifact.KindModel, false)
	if err != nil {
		return artifact.Metadata{}, err
	}
	meta, err := s.store.Describe(path)
	if err != nil {
		return artifact.Metadata{}, &GenerationError{Op: "generate model image", Err: err}
	}
	s.log.Info("model image saved", "path", path, "size_kb", meta.SizeKB)
	return meta, nil
}
