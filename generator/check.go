package generator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"virtual_tryon/pool"
)

const rejectedGarmentMessage = "The image contains several tops or is otherwise unsuitable for virtual try-on; please upload a single top garment."

// Verdict is the garment check outcome. Message explains a rejection.
type Verdict struct {
	Valid   bool   `json:"valid"`
	Message string `json:"error_message,omitempty"`
}

// GarmentChecker asks a vision model whether an image shows one top garment.
type GarmentChecker struct {
	llm  LLMClient
	pool *pool.Pool
}

func NewGarmentChecker(llm LLMClient, p *pool.Pool) (*GarmentChecker, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	if p == nil {
		return nil, errors.New("worker pool is required")
	}
	return &GarmentChecker{llm: llm, pool: p}, nil
}

// Check makes a single remote call for the image at path.
func (g *GarmentChecker) Check(ctx context.Context, path string) (Verdict, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Verdict{}, fmt.Errorf("read garment image: %w", err)
	}
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)

	answer, err := pool.Do(ctx, g.pool, func(ctx context.Context) (string, error) {
		return g.llm.Complete(ctx, BuildGarmentCheckPrompt(dataURL))
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("garment check: %w", err)
	}
	if parseVerdict(answer) {
		return Verdict{Valid: true}, nil
	}
	return Verdict{Valid: false, Message: rejectedGarmentMessage}, nil
}

// Require is Check that turns a rejection into a *ValidationError.
func (g *GarmentChecker) Require(ctx context.Context, path string) error {
	v, err := g.Check(ctx, path)
	if err != nil {
		return err
	}
	if !v.Valid {
		return &ValidationError{Message: v.Message}
	}
	return nil
}
