package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"virtual_tryon/artifact"
	"virtual_tryon/pool"
)

// maxDownloadBytes caps a fetched image; backend images are a few MB.
const maxDownloadBytes = 32 << 20

// ImageOptions are the fixed resolution/quality settings sent to the backend.
type ImageOptions struct {
	Size    string
	Quality string
}

func (o ImageOptions) withDefaults() ImageOptions {
	if o.Size == "" {
		o.Size = "1024x1536"
	}
	if o.Quality == "" {
		o.Quality = "high"
	}
	return o
}

// materializer turns a backend image payload into a stored artifact.
type materializer struct {
	pool   *pool.Pool
	store  *artifact.Store
	client *http.Client
}

func newMaterializer(p *pool.Pool, store *artifact.Store, client *http.Client) materializer {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return materializer{pool: p, store: store, client: client}
}

// save stores payload as kind. Inline data is used first when preferInline
// is set, otherwise the URL is.
func (m materializer) save(ctx context.Context, op string, payload ImagePayload, kind artifact.Kind, preferInline bool) (string, error) {
	if payload.Empty() {
		return "", &GenerationError{Op: op}
	}

	var (
		data []byte
		err  error
	)
	useURL := payload.URL != "" && (!preferInline || payload.B64JSON == "")
	if useURL {
		data, err = pool.Do(ctx, m.pool, func(ctx context.Context) ([]byte, error) {
			return m.download(ctx, payload.URL)
		})
	} else {
		data, err = decodeInline(payload.B64JSON)
	}
	if err != nil {
		return "", &GenerationError{Op: op, Err: err}
	}

	path, err := m.store.Persist(data, kind)
	if err != nil {
		return "", &GenerationError{Op: op, Err: err}
	}
	return path, nil
}

func (m materializer) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download image: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, errors.New("download image: body exceeds size limit")
	}
	return data, nil
}
