package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"virtual_tryon/artifact"
	"virtual_tryon/generator"
	"virtual_tryon/ingest"
	"virtual_tryon/pipeline"
	"virtual_tryon/pool"
)

func newTestServer(t *testing.T, backend *generator.MockBackend) (*Server, *artifact.Store) {
	t.Helper()
	root := t.TempDir()
	store, err := artifact.NewStore(artifact.Options{
		UploadsDir: filepath.Join(root, "uploads"),
		OutputDir:  filepath.Join(root, "imgs"),
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
	}, pipeline.Options{})
	if err != nil {
		t.Fatal(err)
	}
	srv, err := NewServer(orch, checker, ingestor, store, "test")
	if err != nil {
		t.Fatal(err)
	}
	return srv, store
}

func connectInMemory(t *testing.T, ctx context.Context, srv *Server) *sdkmcp.ClientSession {
	t.Helper()
	t1, t2 := sdkmcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer.Connect(ctx, t1, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}
	t.Cleanup(func() { serverSession.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any, out any) *sdkmcp.CallToolResult {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if res.IsError || out == nil {
		return res
	}
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			if err := json.Unmarshal([]byte(tc.Text), out); err != nil {
				t.Fatalf("unmarshal %s result: %v", name, err)
			}
			return res
		}
	}
	t.Fatalf("CallTool(%s): no text content", name)
	return res
}

func garment() string {
	return generator.PlaceholderPNG(color.RGBA{R: 30, G: 160, B: 90, A: 255})
}

func TestServer_ToolDiscovery(t *testing.T) {
	srv, _ := newTestServer(t, &generator.MockBackend{})
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	want := map[string]bool{"generate_tryon": false, "generate_model": false, "check_garment": false}
	for _, tool := range tools.Tools {
		if _, ok := want[tool.Name]; ok {
			want[tool.Name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("tool %q not registered", name)
		}
	}
}

func TestServer_GenerateTryOn(t *testing.T) {
	srv, store := newTestServer(t, &generator.MockBackend{})
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	var out runOutput
	res := callTool(t, ctx, session, "generate_tryon", map[string]any{
		"garment_image": garment(),
		"shot_type":     "half_body",
		"pose":          "站立",
	}, &out)
	if res.IsError {
		t.Fatalf("generate_tryon failed: %+v", res.Content)
	}
	if out.RunID == "" || out.FinalImage == nil {
		t.Fatalf("out = %+v", out)
	}
	if _, err := os.Stat(out.FinalImage.Path); err != nil {
		t.Errorf("final image missing: %v", err)
	}
	entries, _ := os.ReadDir(store.UploadsDir())
	if len(entries) != 0 {
		t.Errorf("uploads left behind: %d", len(entries))
	}
}

func TestServer_GarmentFileAndModel(t *testing.T) {
	srv, _ := newTestServer(t, &generator.MockBackend{})
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	file := filepath.Join(t.TempDir(), "shirt.png")
	data, _ := base64.StdEncoding.DecodeString(garment())
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatal(err)
	}

	var verdict checkOutput
	if res := callTool(t, ctx, session, "check_garment", map[string]any{"garment_file": file}, &verdict); res.IsError {
		t.Fatalf("check_garment failed: %+v", res.Content)
	}
	if !verdict.Valid {
		t.Errorf("verdict = %+v", verdict)
	}

	var model runOutput
	if res := callTool(t, ctx, session, "generate_model", map[string]any{"gender": "male"}, &model); res.IsError {
		t.Fatalf("generate_model failed: %+v", res.Content)
	}
	if model.ModelImage.Filename == "" || model.FinalImage != nil {
		t.Errorf("model = %+v", model)
	}
}

func TestServer_ToolErrors(t *testing.T) {
	srv, _ := newTestServer(t, &generator.MockBackend{})
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	for name, args := range map[string]map[string]any{
		"generate_tryon": {"garment_image": "!!!"},
		"check_garment":  {},
	} {
		if res := callTool(t, ctx, session, name, args, nil); !res.IsError {
			t.Errorf("%s with %v should fail", name, args)
		}
	}
}
