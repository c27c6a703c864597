// Package config loads the service configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"virtual_tryon/artifact"
	"virtual_tryon/generator"
	"virtual_tryon/pool"
)

// Config is the whole service configuration. JSON files load too, since
// JSON is valid YAML.
type Config struct {
	ServerAddr string         `yaml:"server_addr"`
	LLM        LLMConfig      `yaml:"llm"`
	Storage    StorageConfig  `yaml:"storage"`
	Pool       PoolConfig     `yaml:"pool"`
	Images     ImagesConfig   `yaml:"images"`
	Pipeline   PipelineConfig `yaml:"pipeline"`
	Log        LogConfig      `yaml:"log"`
}

// LLMConfig 生成后端配置。APIKey 为空时从 APIKeyEnv 指定的环境变量读取。
type LLMConfig struct {
	Provider   string `yaml:"provider"` // openai | deepseek | mock
	Model      string `yaml:"model"`
	ImageModel string `yaml:"image_model"`
	APIKey     string `yaml:"api_key"`
	APIKeyEnv  string `yaml:"api_key_env"`
	BaseURL    string `yaml:"base_url"`
}

type StorageConfig struct {
	UploadsDir string `yaml:"uploads_dir"`
	OutputDir  string `yaml:"output_dir"`
	URLPrefix  string `yaml:"url_prefix"`
}

type PoolConfig struct {
	Size        int           `yaml:"size"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

type ImagesConfig struct {
	Size    string `yaml:"size"`
	Quality string `yaml:"quality"`
}

type PipelineConfig struct {
	RunTimeout          time.Duration `yaml:"run_timeout"`
	RequireValidGarment bool          `yaml:"require_valid_garment"`
	MaxUploadMB         int           `yaml:"max_upload_mb"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ServerAddr: ":8000",
		LLM: LLMConfig{
			Provider:   "openai",
			Model:      "gpt-4o",
			ImageModel: "gpt-image-1",
			APIKeyEnv:  "OPENAI_API_KEY",
		},
		Storage: StorageConfig{
			UploadsDir: "uploads",
			OutputDir:  "imgs",
			URLPrefix:  "/imgs",
		},
		Pool:     PoolConfig{Size: pool.DefaultSize, CallTimeout: 3 * time.Minute},
		Images:   ImagesConfig{Size: "1024x1536", Quality: "high"},
		Pipeline: PipelineConfig{RunTimeout: 10 * time.Minute, MaxUploadMB: 16},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if cfg.LLM.APIKey == "" && cfg.LLM.APIKeyEnv != "" {
		cfg.LLM.APIKey = os.Getenv(cfg.LLM.APIKeyEnv)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "mock":
	case "deepseek":
		if c.LLM.BaseURL == "" {
			errs = append(errs, errors.New("llm.base_url is required for provider deepseek"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported llm.provider %q", c.LLM.Provider))
	}
	if c.Pool.Size <= 0 {
		errs = append(errs, fmt.Errorf("pool.size must be positive, got %d", c.Pool.Size))
	}
	if c.Pool.CallTimeout < 0 {
		errs = append(errs, errors.New("pool.call_timeout must not be negative"))
	}
	if c.Pipeline.RunTimeout < 0 {
		errs = append(errs, errors.New("pipeline.run_timeout must not be negative"))
	}
	if c.Pipeline.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_upload_mb must be positive, got %d", c.Pipeline.MaxUploadMB))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unsupported log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// LLMSettings converts to the generator's backend settings.
func (c Config) LLMSettings() *generator.LLMSettings {
	return &generator.LLMSettings{
		Provider:   strings.ToLower(c.LLM.Provider),
		Model:      c.LLM.Model,
		ImageModel: c.LLM.ImageModel,
		APIKey:     c.LLM.APIKey,
		BaseURL:    c.LLM.BaseURL,
	}
}

func (c Config) StoreOptions() artifact.Options {
	return artifact.Options{
		UploadsDir: c.Storage.UploadsDir,
		OutputDir:  c.Storage.OutputDir,
		URLPrefix:  c.Storage.URLPrefix,
	}
}

func (c Config) PoolOptions() pool.Options {
	return pool.Options{Size: c.Pool.Size, CallTimeout: c.Pool.CallTimeout}
}

func (c Config) ImageOptions() generator.ImageOptions {
	return generator.ImageOptions{Size: c.Images.Size, Quality: c.Images.Quality}
}

// MaxUploadBytes is the request body limit for endpoints carrying images.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.Pipeline.MaxUploadMB) << 20
}
