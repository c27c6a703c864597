package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"virtual_tryon/logging"
	"virtual_tryon/pool"
)

// Agent 负责规划合成：姿势/场景含非英文文字时先翻译，再拼装编辑提示词。
type Agent struct {
	llm  LLMClient
	pool *pool.Pool
	log  *slog.Logger
}

func NewAgent(llm LLMClient, p *pool.Pool) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	if p == nil {
		return nil, errors.New("worker pool is required")
	}
	return &Agent{llm: llm, pool: p, log: logging.New("compose-plan")}, nil
}

// Plan is the English edit prompt plus the fields that had to be translated.
type Plan struct {
	Prompt     string
	Translated []string
}

// Plan translates pose and scene independently when needed, then builds the
// edit prompt. Every translation finishes before Plan returns.
func (a *Agent) Plan(ctx context.Context, req ComposeRequest) (Plan, error) {
	var plan Plan

	pose, translated, err := a.english(ctx, "pose", req.Pose)
	if err != nil {
		return Plan{}, err
	}
	if translated {
		plan.Translated = append(plan.Translated, "pose")
	}

	scene, translated, err := a.english(ctx, "scene", req.Scene)
	if err != nil {
		return Plan{}, err
	}
	if translated {
		plan.Translated = append(plan.Translated, "scene")
	}

	plan.Prompt = BuildCompositionPrompt(req.ShotType, req.Angle, pose, scene)
	return plan, nil
}

func (a *Agent) english(ctx context.Context, field, text string) (string, bool, error) {
	text = strings.TrimSpace(text)
	if !NeedsTranslation(text) {
		return text, false, nil
	}
	a.log.Info("translating to english", "field", field)
	out, err := pool.Do(ctx, a.pool, func(ctx context.Context) (string, error) {
		return a.llm.Complete(ctx, BuildTranslationPrompt(text))
	})
	if err != nil {
		return "", false, fmt.Errorf("translate %s: %w", field, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", false, fmt.Errorf("translate %s: empty translation", field)
	}
	return out, true, nil
}

// NeedsTranslation reports whether text contains letters outside the Latin
// script, e.g. Chinese or Cyrillic.
func NeedsTranslation(text string) bool {
	for _, r := range norm.NFC.String(text) {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return true
		}
	}
	return false
}
