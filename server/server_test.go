package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"virtual_tryon/artifact"
	"virtual_tryon/generator"
	"virtual_tryon/ingest"
	"virtual_tryon/pipeline"
	"virtual_tryon/pool"
)

type testEnv struct {
	handler http.Handler
	store   *artifact.Store
	backend *generator.MockBackend
}

func newTestEnv(t *testing.T, backend *generator.MockBackend, opts Options) *testEnv {
	t.Helper()
	return newTestEnvWithPrefix(t, backend, opts, "")
}

func newTestEnvWithPrefix(t *testing.T, backend *generator.MockBackend, opts Options, urlPrefix string) *testEnv {
	t.Helper()
	root := t.TempDir()
	store, err := artifact.NewStore(artifact.Options{
		UploadsDir: filepath.Join(root, "uploads"),
		OutputDir:  filepath.Join(root, "imgs"),
		URLPrefix:  urlPrefix,
	})
	if err != nil {
		t.Fatal(err)
	}
	p := pool.New(pool.Options{Size: 2})
	t.Cleanup(p.Close)

	ingestor, _ := ingest.New(store)
	describer, _ := generator.NewDescriptionStage(backend, p)
	synth, _ := generator.NewSynthesisStage(backend, p, store, generator.ImageOptions{}, nil)
	agent, _ := generator.NewAgent(backend, p)
	composer, _ := generator.NewCompositionStage(agent, backend, p, store, generator.ImageOptions{}, nil)
	checker, _ := generator.NewGarmentChecker(backend, p)
	orch, err := pipeline.New(pipeline.Deps{
		Store:       store,
		Ingestor:    ingestor,
		Describer:   describer,
		Synthesizer: synth,
		Composer:    composer,
		Validator:   checker,
	}, pipeline.Options{})
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(Deps{
		Pipeline: orch,
		Checker:  checker,
		Ingestor: ingestor,
		Store:    store,
		Stats:    p.Stats,
		Provider: "mock",
	}, opts)
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{handler: srv.Routes(), store: store, backend: backend}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) uploads(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(e.store.UploadsDir())
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func clothing() string {
	return "data:image/png;base64," + generator.PlaceholderPNG(color.RGBA{B: 180, A: 255})
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Result  T      `json:"result"`
	Error   string `json:"error"`
	Stage   string `json:"stage"`
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var out envelope[T]
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestStepByStep(t *testing.T) {
	env := newTestEnv(t, &generator.MockBackend{}, Options{})

	rec := env.do(t, "POST", "/api/generate-step-by-step", map[string]any{
		"clothingImage": clothing(),
		"gender":        "male",
		"age":           31,
		"camera":        map[string]string{"shot_type": "half_body", "angle": "side"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	body := decodeBody[stepResult](t, rec)
	if !body.Success || body.Result.RunID == "" {
		t.Fatalf("body = %+v", body)
	}
	for _, meta := range []artifact.Metadata{body.Result.ModelImage, body.Result.FinalImage} {
		if _, err := os.Stat(meta.Path); err != nil {
			t.Errorf("%s: %v", meta.Path, err)
		}
		if !strings.HasPrefix(meta.URL, "/imgs/"+meta.Filename+"?t=") {
			t.Errorf("url = %q", meta.URL)
		}
	}
	if n := env.uploads(t); n != 0 {
		t.Errorf("uploads left behind: %d", n)
	}
	if p := env.backend.Edits()[0].Prompt; !strings.Contains(p, "half body") || !strings.Contains(p, "side-facing") {
		t.Errorf("edit prompt = %q", p)
	}

	img := env.do(t, "GET", "/imgs/"+body.Result.FinalImage.Filename, nil)
	if img.Code != http.StatusOK || img.Header().Get("Content-Type") != "image/jpeg" {
		t.Errorf("image fetch: %d %q", img.Code, img.Header().Get("Content-Type"))
	}
}

func TestGenerate_Failures(t *testing.T) {
	t.Run("malformed image", func(t *testing.T) {
		env := newTestEnv(t, &generator.MockBackend{}, Options{})
		rec := env.do(t, "POST", "/api/generate-model", map[string]any{"clothingImage": "not an image"})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
		body := decodeBody[json.RawMessage](t, rec)
		if body.Success || body.Stage != string(pipeline.StageIngest) || body.Error == "" {
			t.Errorf("body = %+v", body)
		}
		if calls := env.backend.Calls(); len(calls) != 0 {
			t.Errorf("backend called: %v", calls)
		}
	})

	t.Run("empty synthesis", func(t *testing.T) {
		env := newTestEnv(t, &generator.MockBackend{GenerateFunc: func(context.Context, generator.ImageRequest) (generator.ImagePayload, error) {
			return generator.ImagePayload{}, nil
		}}, Options{})
		rec := env.do(t, "POST", "/api/generate-model", map[string]any{"clothingImage": clothing()})
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d", rec.Code)
		}
		if body := decodeBody[json.RawMessage](t, rec); body.Stage != string(pipeline.StageSynthesize) {
			t.Errorf("stage = %q", body.Stage)
		}
		if n := env.uploads(t); n != 0 {
			t.Errorf("uploads left behind: %d", n)
		}
	})

	t.Run("unknown camera", func(t *testing.T) {
		env := newTestEnv(t, &generator.MockBackend{}, Options{})
		rec := env.do(t, "POST", "/api/generate-model", map[string]any{
			"clothingImage": clothing(),
			"camera":        map[string]string{"shot_type": "close_up"},
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("body too large", func(t *testing.T) {
		env := newTestEnv(t, &generator.MockBackend{}, Options{MaxUploadBytes: 64})
		rec := env.do(t, "POST", "/api/generate-model", map[string]any{"clothingImage": clothing()})
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestModelOnlyThenMerge(t *testing.T) {
	env := newTestEnv(t, &generator.MockBackend{}, Options{})

	rec := env.do(t, "POST", "/api/generate-model-only", map[string]any{"nationality": "Korean"})
	if rec.Code != http.StatusOK {
		t.Fatalf("model-only status = %d, body = %s", rec.Code, rec.Body)
	}
	model := decodeBody[modelResult](t, rec).Result.ModelImage

	rec = env.do(t, "POST", "/api/merge-clothing-only", map[string]any{
		"clothingImage":    clothing(),
		"modelImagePath":   model.Path,
		"shot_type":        "半身",
		"angle":            "侧面",
		"pose_description": "双手插兜",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("merge status = %d, body = %s", rec.Code, rec.Body)
	}
	final := decodeBody[mergeResult](t, rec).Result.FinalImage
	if !strings.HasPrefix(final.Filename, "tryon_") {
		t.Errorf("final = %+v", final)
	}
	calls := env.backend.Calls()
	if calls[len(calls)-2] != generator.CallTranslate || calls[len(calls)-1] != generator.CallEdit {
		t.Errorf("calls = %v, want translate before edit", calls)
	}

	rec = env.do(t, "POST", "/api/merge-clothing-only", map[string]any{
		"clothingImage":  clothing(),
		"modelImagePath": "/etc/hosts.jpg",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign model path status = %d", rec.Code)
	}
}

func TestCheckClothing(t *testing.T) {
	for _, answer := range []string{"true", "false"} {
		t.Run(answer, func(t *testing.T) {
			env := newTestEnv(t, &generator.MockBackend{TextFunc: func(context.Context, generator.Prompt) (string, error) {
				return answer, nil
			}}, Options{})
			rec := env.do(t, "POST", "/api/check-clothing", map[string]any{"clothingImage": clothing()})
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			verdict := decodeBody[generator.Verdict](t, rec).Result
			if verdict.Valid != (answer == "true") {
				t.Errorf("verdict = %+v", verdict)
			}
			if n := env.uploads(t); n != 0 {
				t.Errorf("uploads left behind: %d", n)
			}
		})
	}
}

func TestStatusAndIndex(t *testing.T) {
	env := newTestEnv(t, &generator.MockBackend{}, Options{})

	rec := env.do(t, "GET", "/api/status", nil)
	var st statusResp
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if !st.Success || st.Pool == nil || st.Pool.Capacity != 2 || st.Stages["compose"] != "ready" {
		t.Errorf("status = %+v", st)
	}

	rec = env.do(t, "GET", "/", nil)
	html := rec.Body.String()
	if !strings.Contains(html, "<table>") || !strings.Contains(html, "/api/merge-clothing-only") {
		t.Errorf("index:\n%s", html)
	}

	for _, p := range []string{"/imgs/notes.txt", "/imgs/missing.jpg"} {
		if rec := env.do(t, "GET", p, nil); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d", p, rec.Code)
		}
	}
	if rec := env.do(t, "GET", "/api/status", nil); rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestImages_CustomURLPrefix(t *testing.T) {
	env := newTestEnvWithPrefix(t, &generator.MockBackend{}, Options{}, "/media/tryon/")

	rec := env.do(t, "POST", "/api/generate-model-only", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	model := decodeBody[modelResult](t, rec).Result.ModelImage
	if !strings.HasPrefix(model.URL, "/media/tryon/"+model.Filename+"?t=") {
		t.Fatalf("url = %q", model.URL)
	}

	img := env.do(t, "GET", strings.SplitN(model.URL, "?", 2)[0], nil)
	if img.Code != http.StatusOK || img.Header().Get("Content-Type") != "image/jpeg" {
		t.Errorf("image fetch: %d %q", img.Code, img.Header().Get("Content-Type"))
	}
	if rec := env.do(t, "GET", "/imgs/"+model.Filename, nil); rec.Code != http.StatusNotFound {
		t.Errorf("default prefix still served: %d", rec.Code)
	}
	if html := env.do(t, "GET", "/", nil).Body.String(); !strings.Contains(html, "/media/tryon/{name}") {
		t.Errorf("index does not list image route:\n%s", html)
	}
}
