package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"virtual_tryon/artifact"
	"virtual_tryon/generator"
	"virtual_tryon/logging"
)

// Artifacts is the slice of the artifact store a run needs.
type Artifacts interface {
	Resolve(output string) artifact.Resolution
	Describe(path string) (artifact.Metadata, error)
	Delete(path string) error
}

type Ingester interface {
	Ingest(encoded string) (string, error)
}

type Describer interface {
	Describe(ctx context.Context, spec generator.ModelSpecification) generator.Description
}

type Synthesizer interface {
	Synthesize(ctx context.Context, description string) (artifact.Metadata, error)
}

type Composer interface {
	Compose(ctx context.Context, req generator.ComposeRequest) (generator.StageOutput, error)
}

// GarmentValidator rejects unusable garment images with *generator.ValidationError.
type GarmentValidator interface {
	Require(ctx context.Context, path string) error
}

// Observer receives stage timings and run outcomes. It must be safe for
// concurrent use.
type Observer interface {
	StageFinished(op string, stage Stage, elapsed time.Duration, err error)
	RunFinished(op string, state State, failedAt Stage, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) StageFinished(string, Stage, time.Duration, error) {}
func (nopObserver) RunFinished(string, State, Stage, time.Duration) {}

// Operation names passed to Observer.
const (
	OpTryOn = "tryon"
	OpModel = "model"
	OpMerge = "merge"
)

// Deps wires the stages into an Orchestrator. Validator and Observer are optional.
type Deps struct {
	Store       Artifacts
	Ingestor    Ingester
	Describer   Describer
	Synthesizer Synthesizer
	Composer    Composer
	Validator   GarmentValidator
	Observer    Observer
}

// Options tunes orchestration.
type Options struct {
	// RequireValidGarment runs the garment check before any generation.
	RequireValidGarment bool
}

// Result is the outcome of a successful run. Final equals Model for model-only runs.
type Result struct {
	RunID        string            `json:"run_id"`
	Description  string            `json:"description,omitempty"`
	FallbackUsed bool              `json:"fallback_used,omitempty"`
	Model        artifact.Metadata `json:"model_image"`
	Final        artifact.Metadata `json:"final_image"`
}

// Request is a full try-on request with an encoded garment image.
type Request struct {
	GarmentImage string
	Spec         generator.ModelSpecification
}

// MergeRequest composes a garment onto an existing model artifact.
type MergeRequest struct {
	ModelPath    string
	GarmentImage string
	Camera       generator.CameraSettings
	Pose         string
	Scene        string
}

// Orchestrator runs the stages in order for each request.
type Orchestrator struct {
	store       Artifacts
	ingestor    Ingester
	describer   Describer
	synthesizer Synthesizer
	composer    Composer
	validator   GarmentValidator
	observer    Observer
	opts        Options
	log         *slog.Logger
}

func New(d Deps, opts Options) (*Orchestrator, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("artifact store is required")
	case d.Ingestor == nil:
		return nil, errors.New("ingestor is required")
	case d.Describer == nil:
		return nil, errors.New("description stage is required")
	case d.Synthesizer == nil:
		return nil, errors.New("synthesis stage is required")
	case d.Composer == nil:
		return nil, errors.New("composition stage is required")
	}
	if opts.RequireValidGarment && d.Validator == nil {
		return nil, errors.New("garment validator is required when garment checks are enabled")
	}
	obs := d.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Orchestrator{
		store:       d.Store,
		ingestor:    d.Ingestor,
		describer:   d.Describer,
		synthesizer: d.Synthesizer,
		composer:    d.Composer,
		validator:   d.Validator,
		observer:    obs,
		opts:        opts,
		log:         logging.New("pipeline"),
	}, nil
}

// Run drives an already ingested garment through describe, synthesize and
// compose. The ingested file belongs to the run and is deleted before Run
// returns, whatever the outcome.
func (o *Orchestrator) Run(ctx context.Context, ingestedPath string, spec generator.ModelSpecification) (Result, error) {
	run := o.begin(OpTryOn)
	defer o.finish(run, time.Now())

	run.own(ingestedPath)
	run.advance(StateIngested)
	return o.tryOn(ctx, run, ingestedPath, spec)
}

// Execute ingests the encoded garment, optionally checks it, then runs the
// full pipeline. Nothing remote is called when ingestion fails.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (Result, error) {
	run := o.begin(OpTryOn)
	defer o.finish(run, time.Now())

	garment, err := o.ingest(ctx, run, req.GarmentImage)
	if err != nil {
		return Result{}, err
	}
	return o.tryOn(ctx, run, garment, req.Spec)
}

// GenerateModel runs only describe and synthesize.
func (o *Orchestrator) GenerateModel(ctx context.Context, spec generator.ModelSpecification) (Result, error) {
	run := o.begin(OpModel)
	defer o.finish(run, time.Now())

	spec, err := o.checkSpec(run, spec)
	if err != nil {
		return Result{}, err
	}
	desc := o.describe(ctx, run, spec)
	model, err := o.synthesize(ctx, run, desc.Text)
	if err != nil {
		return Result{}, err
	}
	run.advance(StateDone)
	return Result{
		RunID:        run.ID,
		Description:  desc.Text,
		FallbackUsed: desc.Fallback,
		Model:        model,
		Final:        model,
	}, nil
}

// Merge composes an encoded garment onto an existing model artifact. The
// model path must name a file in the output area.
func (o *Orchestrator) Merge(ctx context.Context, req MergeRequest) (Result, error) {
	run := o.begin(OpMerge)
	defer o.finish(run, time.Now())

	model, err := o.modelArtifact(req.ModelPath)
	if err != nil {
		return Result{}, run.fail(StageIngest, err)
	}
	garment, err := o.ingest(ctx, run, req.GarmentImage)
	if err != nil {
		return Result{}, err
	}
	run.advance(StateSynthesized)

	camera := generator.ModelSpecification{Camera: req.Camera}.Normalize().Camera
	final, err := o.compose(ctx, run, generator.ComposeRequest{
		ModelPath:   model.Path,
		GarmentPath: garment,
		ShotType:    camera.ShotType,
		Angle:       camera.Angle,
		Pose:        req.Pose,
		Scene:       req.Scene,
	})
	if err != nil {
		return Result{}, err
	}
	run.advance(StateDone)
	return Result{RunID: run.ID, Model: model, Final: final}, nil
}

func (o *Orchestrator) begin(op string) *Run {
	run := newRun(op, o.store, o.log)
	run.log.Info("run started")
	return run
}

// finish releases the run's ephemerals before control returns to the caller.
func (o *Orchestrator) finish(run *Run, started time.Time) {
	run.close()
	elapsed := time.Since(started)
	if run.State() == StateFailed {
		run.log.Warn("run failed", "stage", run.FailedAt(), "elapsed", elapsed)
	} else {
		run.log.Info("run finished", "state", run.State(), "elapsed", elapsed)
	}
	o.observer.RunFinished(run.Op, run.State(), run.FailedAt(), elapsed)
}

// step times fn and converts its error into a StageError.
func (o *Orchestrator) step(run *Run, stage Stage, fn func() error) error {
	start := time.Now()
	run.log.Info("stage started", "stage", stage)
	err := fn()
	elapsed := time.Since(start)
	o.observer.StageFinished(run.Op, stage, elapsed, err)
	if err != nil {
		run.log.Error("stage failed", "stage", stage, "elapsed", elapsed, "error", err)
		return run.fail(stage, err)
	}
	run.log.Info("stage finished", "stage", stage, "elapsed", elapsed)
	return nil
}

func (o *Orchestrator) ingest(ctx context.Context, run *Run, encoded string) (string, error) {
	var path string
	err := o.step(run, StageIngest, func() (err error) {
		path, err = o.ingestor.Ingest(encoded)
		return err
	})
	if err != nil {
		return "", err
	}
	run.own(path)
	run.advance(StateIngested)

	if o.opts.RequireValidGarment {
		if err := o.step(run, StageValidate, func() error {
			return o.validator.Require(ctx, path)
		}); err != nil {
			return "", err
		}
	}
	return path, nil
}

func (o *Orchestrator) checkSpec(run *Run, spec generator.ModelSpecification) (generator.ModelSpecification, error) {
	spec = spec.Normalize()
	if err := spec.Validate(); err != nil {
		return spec, run.fail(StageValidate, err)
	}
	return spec, nil
}

func (o *Orchestrator) tryOn(ctx context.Context, run *Run, garment string, spec generator.ModelSpecification) (Result, error) {
	spec, err := o.checkSpec(run, spec)
	if err != nil {
		return Result{}, err
	}
	desc := o.describe(ctx, run, spec)
	model, err := o.synthesize(ctx, run, desc.Text)
	if err != nil {
		return Result{}, err
	}
	final, err := o.compose(ctx, run, generator.ComposeRequest{
		ModelPath:   model.Path,
		GarmentPath: garment,
		ShotType:    spec.Camera.ShotType,
		Angle:       spec.Camera.Angle,
		Pose:        spec.Action,
		Scene:       spec.Scene,
	})
	if err != nil {
		return Result{}, err
	}
	run.advance(StateDone)
	return Result{
		RunID:        run.ID,
		Description:  desc.Text,
		FallbackUsed: desc.Fallback,
		Model:        model,
		Final:        final,
	}, nil
}

// describe never fails the run; a fallback is logged by the stage itself.
func (o *Orchestrator) describe(ctx context.Context, run *Run, spec generator.ModelSpecification) generator.Description {
	var desc generator.Description
	_ = o.step(run, StageDescribe, func() error {
		desc = o.describer.Describe(ctx, spec)
		return nil
	})
	run.advance(StateDescribed)
	return desc
}

func (o *Orchestrator) synthesize(ctx context.Context, run *Run, description string) (artifact.Metadata, error) {
	var model artifact.Metadata
	err := o.step(run, StageSynthesize, func() (err error) {
		model, err = o.synthesizer.Synthesize(ctx, description)
		return err
	})
	if err != nil {
		return artifact.Metadata{}, err
	}
	run.advance(StateSynthesized)
	return model, nil
}

// compose runs the composition stage and resolves its output to an artifact.
func (o *Orchestrator) compose(ctx context.Context, run *Run, req generator.ComposeRequest) (artifact.Metadata, error) {
	var out generator.StageOutput
	err := o.step(run, StageCompose, func() (err error) {
		out, err = o.composer.Compose(ctx, req)
		return err
	})
	if err != nil {
		return artifact.Metadata{}, err
	}
	run.advance(StateComposed)

	var final artifact.Metadata
	err = o.step(run, StageResolve, func() error {
		res := o.store.Resolve(out.String())
		if !res.Resolved {
			return fmt.Errorf("%w: %q", artifact.ErrResolutionMiss, clip(res.Path, 120))
		}
		// 本次 run 的临时输入不能当作生成结果
		if run.owns(res.Path) {
			return fmt.Errorf("%w: output names the run's own input %s", artifact.ErrResolutionMiss, res.Path)
		}
		if res.Heuristic {
			run.log.Warn("artifact path extracted from free text", "path", res.Path)
		}
		meta, err := o.store.Describe(res.Path)
		if err != nil {
			return err
		}
		final = meta
		return nil
	})
	if err != nil {
		return artifact.Metadata{}, err
	}
	return final, nil
}

// modelArtifact accepts only canonical artifact paths, so a client cannot
// point composition at arbitrary files.
func (o *Orchestrator) modelArtifact(path string) (artifact.Metadata, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return artifact.Metadata{}, errors.New("model image path is required")
	}
	res := o.store.Resolve(filepath.Clean(path))
	if !res.Resolved || res.Heuristic {
		return artifact.Metadata{}, fmt.Errorf("model image %q: %w", path, artifact.ErrNotFound)
	}
	return o.store.Describe(res.Path)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
