package generator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
)

// MockBackend 一个本地占位实现，便于离线调试，不调用外部模型。
// 各 Func 字段可覆盖默认行为；Calls 按顺序记录调用。
type MockBackend struct {
	TextFunc     func(ctx context.Context, prompt Prompt) (string, error)
	GenerateFunc func(ctx context.Context, req ImageRequest) (ImagePayload, error)
	EditFunc     func(ctx context.Context, req EditRequest) (ImagePayload, error)

	mu    sync.Mutex
	calls []string
	edits []EditRequest
}

// Call kinds recorded by MockBackend.
const (
	CallDescribe  = "describe"
	CallTranslate = "translate"
	CallCheck     = "check"
	CallText      = "text"
	CallGenerate  = "generate"
	CallEdit      = "edit"
)

func (m *MockBackend) record(kind string) {
	m.mu.Lock()
	m.calls = append(m.calls, kind)
	m.mu.Unlock()
}

// Calls returns the recorded call kinds in order.
func (m *MockBackend) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Edits returns the recorded edit requests.
func (m *MockBackend) Edits() []EditRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EditRequest(nil), m.edits...)
}

func classify(prompt Prompt) string {
	switch {
	case prompt.Schema != nil:
		return CallDescribe
	case len(prompt.Images) > 0:
		return CallCheck
	case prompt.System == translationSystem:
		return CallTranslate
	default:
		return CallText
	}
}

func (m *MockBackend) Complete(ctx context.Context, prompt Prompt) (string, error) {
	kind := classify(prompt)
	m.record(kind)
	if m.TextFunc != nil {
		return m.TextFunc(ctx, prompt)
	}
	switch kind {
	case CallDescribe:
		out, _ := json.Marshal(map[string]string{
			"prompt": "A studio fashion model in a plain white t-shirt and jeans. " + strings.ReplaceAll(prompt.User, "\n", " "),
		})
		return string(out), nil
	case CallCheck:
		return "true", nil
	case CallTranslate:
		return "a relaxed natural pose", nil
	}
	return "ok", nil
}

func (m *MockBackend) GenerateImage(ctx context.Context, req ImageRequest) (ImagePayload, error) {
	m.record(CallGenerate)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return ImagePayload{B64JSON: PlaceholderPNG(color.RGBA{R: 210, G: 210, B: 215, A: 255})}, nil
}

func (m *MockBackend) EditImage(ctx context.Context, req EditRequest) (ImagePayload, error) {
	m.record(CallEdit)
	m.mu.Lock()
	m.edits = append(m.edits, req)
	m.mu.Unlock()
	if m.EditFunc != nil {
		return m.EditFunc(ctx, req)
	}
	return ImagePayload{B64JSON: PlaceholderPNG(color.RGBA{R: 90, G: 120, B: 200, A: 255})}, nil
}

// PlaceholderPNG returns a small base64 PNG filled with c.
func PlaceholderPNG(c color.Color) string {
	img := image.NewRGBA(image.Rect(0, 0, 32, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}
