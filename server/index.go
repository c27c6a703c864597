package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

var endpoints = []struct{ method, path, doc string }{
	{"POST", "/api/generate-model", "full try-on run; returns the final image"},
	{"POST", "/api/generate-step-by-step", "full try-on run; returns model and final images"},
	{"POST", "/api/generate-model-only", "model image only"},
	{"POST", "/api/merge-clothing-only", "compose a garment onto an existing model image"},
	{"POST", "/api/check-clothing", "single-top garment check"},
	{"GET", "/api/status", "stage readiness and worker pool stats"},
}

// indexMarkdown 生成首页的 Markdown 内容。
func (s *Server) indexMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# Virtual Try-On\n\n")
	if s.provider != "" {
		sb.WriteString(fmt.Sprintf("Backend: `%s`\n\n", s.provider))
	}
	sb.WriteString("## Endpoints\n\n| method | path | |\n|---|---|---|\n")
	for _, e := range endpoints {
		sb.WriteString(fmt.Sprintf("| %s | `%s` | %s |\n", e.method, e.path, e.doc))
	}
	sb.WriteString(fmt.Sprintf("| GET | `%s/{name}` | generated images |\n", s.store.URLPrefix()))
	if st := s.status(); st.Pool != nil {
		sb.WriteString("\n## Worker pool\n\n")
		sb.WriteString(fmt.Sprintf("- capacity: %d\n- in flight: %d\n- waiting: %d\n",
			st.Pool.Capacity, st.Pool.InFlight, st.Pool.Waiting))
	}
	if s.metrics != nil {
		sb.WriteString("\nMetrics are exported at `/metrics`.\n")
	}
	return sb.String()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(s.indexMarkdown()), &body); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!doctype html>\n<html><head><meta charset=\"utf-8\"><title>Virtual Try-On</title></head><body>\n%s</body></html>\n", body.String())
}
