// Package ingest turns client-supplied encoded images into ephemeral upload
// artifacts.
package ingest

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"virtual_tryon/artifact"
)

// DecodeError reports an input that is not valid base64 or not an image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode image: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// Ingestor writes decoded uploads into the store's uploads area.
type Ingestor struct {
	store *artifact.Store
}

func New(store *artifact.Store) (*Ingestor, error) {
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	return &Ingestor{store: store}, nil
}

// Ingest decodes a data URL or raw base64 string and persists it as an RGB
// JPEG upload. The caller owns the returned path and must delete it.
func (i *Ingestor) Ingest(encoded string) (string, error) {
	data, err := DecodeBase64Image(encoded)
	if err != nil {
		return "", &DecodeError{Err: err}
	}
	path, err := i.store.Persist(data, artifact.KindUpload)
	if err != nil {
		if errors.Is(err, artifact.ErrUndecodable) {
			return "", &DecodeError{Err: err}
		}
		return "", err
	}
	return path, nil
}

// DecodeBase64Image strips an optional data URL header and decodes the
// base64 payload. Padded and unpadded input are both accepted.
func DecodeBase64Image(encoded string) ([]byte, error) {
	payload := strings.TrimSpace(encoded)
	if strings.HasPrefix(payload, "data:") {
		idx := strings.Index(payload, ",")
		if idx < 0 {
			return nil, errors.New("data url without payload")
		}
		payload = payload[idx+1:]
	}
	payload = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, payload)
	if payload == "" {
		return nil, errors.New("empty image payload")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return data, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(payload); rawErr == nil {
		return raw, nil
	}
	return nil, fmt.Errorf("invalid base64: %w", err)
}
