package main

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"virtual_tryon/config"
	"virtual_tryon/generator"
)

func writeTestConfig(t *testing.T) (cfgPath, root string) {
	t.Helper()
	root = t.TempDir()
	cfgPath = filepath.Join(root, "config.yaml")
	body := fmt.Sprintf("storage:\n  uploads_dir: %s\n  output_dir: %s\nlog:\n  level: error\n",
		filepath.Join(root, "uploads"), filepath.Join(root, "imgs"))
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return cfgPath, root
}

func writeGarment(t *testing.T, dir string) string {
	t.Helper()
	data, _ := base64.StdEncoding.DecodeString(generator.PlaceholderPNG(color.RGBA{R: 250, G: 40, A: 255}))
	path := filepath.Join(dir, "shirt.png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGenerateCommand(t *testing.T) {
	cfgPath, root := writeTestConfig(t)
	garment := writeGarment(t, root)

	out, err := execute(t, "generate", "--mock", "--config", cfgPath, "--garment", garment, "--shot", "half_body", "--pose", "自然站立")
	if err != nil {
		t.Fatalf("generate: %v\n%s", err, out)
	}
	for _, want := range []string{"model_", "tryon_", "run: "} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	entries, _ := os.ReadDir(filepath.Join(root, "uploads"))
	if len(entries) != 0 {
		t.Errorf("uploads left behind: %d", len(entries))
	}
}

func TestModelAndCheckCommands(t *testing.T) {
	cfgPath, root := writeTestConfig(t)

	out, err := execute(t, "model", "--mock", "--config", cfgPath, "--gender", "male")
	if err != nil {
		t.Fatalf("model: %v\n%s", err, out)
	}
	if !strings.Contains(out, "model_") || strings.Contains(out, "tryon_") {
		t.Errorf("model output:\n%s", out)
	}

	out, err = execute(t, "check", "--mock", "--config", cfgPath, writeGarment(t, root))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if strings.TrimSpace(out) != "valid" {
		t.Errorf("check output = %q", out)
	}
}

func TestGenerateCommand_MissingGarment(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	if _, err := execute(t, "generate", "--mock", "--config", cfgPath); err == nil {
		t.Error("generate without --garment should fail")
	}
}

func TestBuildBackend(t *testing.T) {
	cfg := config.Default()

	cfg.LLM.Provider = "mock"
	if b, err := buildBackend(cfg); err != nil {
		t.Errorf("mock: %v", err)
	} else if _, ok := b.(*generator.MockBackend); !ok {
		t.Errorf("mock backend = %T", b)
	}

	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = ""
	if _, err := buildBackend(cfg); err == nil {
		t.Error("openai without api key should fail")
	}

	cfg.LLM.APIKey = "sk-test"
	if b, err := buildBackend(cfg); err != nil {
		t.Errorf("openai: %v", err)
	} else if _, ok := b.(*generator.OpenAIBackend); !ok {
		t.Errorf("openai backend = %T", b)
	}

	cfg.LLM.Provider = "deepseek"
	if _, err := buildBackend(cfg); err == nil {
		t.Error("deepseek without base_url should fail")
	}

	cfg.LLM.Provider = "anthropic"
	if _, err := buildBackend(cfg); err == nil {
		t.Error("unknown provider should fail")
	}
}
