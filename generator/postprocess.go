package generator

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// parseDescription 从结构化输出中取出 prompt 字段。
func parseDescription(raw string) (string, error) {
	body := strings.TrimSpace(raw)
	if body == "" {
		return "", errors.New("model returned empty output")
	}
	body = stripCodeFence(body)

	var out struct {
		Prompt *string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return "", fmt.Errorf("malformed structured output: %w", err)
	}
	if out.Prompt == nil {
		return "", errors.New("structured output missing prompt field")
	}
	text := strings.TrimSpace(*out.Prompt)
	if text == "" {
		return "", errors.New("structured output has empty prompt")
	}
	return text, nil
}

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

func stripCodeFence(s string) string {
	if m := fenceRe.FindStringSubmatch(s); len(m) == 2 {
		return m[1]
	}
	return s
}

// decodeInline decodes a base64 image payload returned by the backend.
func decodeInline(b64 string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("decode inline image: %w", err)
	}
	return data, nil
}

// parseVerdict reads a true/false answer, tolerating quotes and trailing punctuation.
func parseVerdict(raw string) bool {
	answer := strings.ToLower(strings.Trim(strings.TrimSpace(raw), "\"'`.!"))
	return answer == "true"
}
