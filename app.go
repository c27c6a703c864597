package main

import (
	"fmt"
	"os"
	"strings"

	"virtual_tryon/artifact"
	"virtual_tryon/config"
	"virtual_tryon/generator"
	"virtual_tryon/ingest"
	"virtual_tryon/logging"
	"virtual_tryon/metrics"
	"virtual_tryon/pipeline"
	"virtual_tryon/pool"
)

// app holds the process-scoped resources. The pool is built once here and
// closed at exit.
type app struct {
	cfg      config.Config
	provider string
	store    *artifact.Store
	pool     *pool.Pool
	ingestor *ingest.Ingestor
	checker  *generator.GarmentChecker
	orch     *pipeline.Orchestrator
	metrics  *metrics.Recorder
}

func newApp(flags *rootFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Verbose: flags.verbose,
		Output:  os.Stderr,
	})

	if flags.mock {
		cfg.LLM.Provider = "mock"
	}
	backend, err := buildBackend(cfg)
	if err != nil {
		return nil, err
	}

	store, err := artifact.NewStore(cfg.StoreOptions())
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		provider: strings.ToLower(cfg.LLM.Provider),
		store:    store,
		pool:     pool.New(cfg.PoolOptions()),
	}
	if err := a.wire(backend); err != nil {
		a.pool.Close()
		return nil, err
	}
	logging.New("app").Info("initialized",
		"provider", a.provider, "pool_size", cfg.Pool.Size, "output_dir", store.OutputDir())
	return a, nil
}

func (a *app) wire(backend generator.Backend) error {
	var err error
	if a.ingestor, err = ingest.New(a.store); err != nil {
		return err
	}
	describer, err := generator.NewDescriptionStage(backend, a.pool)
	if err != nil {
		return err
	}
	synth, err := generator.NewSynthesisStage(backend, a.pool, a.store, a.cfg.ImageOptions(), nil)
	if err != nil {
		return err
	}
	agent, err := generator.NewAgent(backend, a.pool)
	if err != nil {
		return err
	}
	composer, err := generator.NewCompositionStage(agent, backend, a.pool, a.store, a.cfg.ImageOptions(), nil)
	if err != nil {
		return err
	}
	if a.checker, err = generator.NewGarmentChecker(backend, a.pool); err != nil {
		return err
	}
	a.metrics = metrics.New(a.pool.Stats)
	a.orch, err = pipeline.New(pipeline.Deps{
		Store:       a.store,
		Ingestor:    a.ingestor,
		Describer:   describer,
		Synthesizer: synth,
		Composer:    composer,
		Validator:   a.checker,
		Observer:    a.metrics,
	}, pipeline.Options{RequireValidGarment: a.cfg.Pipeline.RequireValidGarment})
	return err
}

func (a *app) Close() { a.pool.Close() }

func buildBackend(cfg config.Config) (generator.Backend, error) {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "mock":
		return &generator.MockBackend{}, nil
	case "openai":
		return generator.NewOpenAIBackendFromConfig(cfg.LLMSettings(), nil)
	case "deepseek":
		// DeepSeek 提供 OpenAI 兼容接口，需填写 base_url（例如官方/网关地址）。
		if cfg.LLM.BaseURL == "" {
			return nil, fmt.Errorf("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
		return generator.NewOpenAIBackendFromConfig(cfg.LLMSettings(), nil)
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.LLM.Provider)
	}
}
