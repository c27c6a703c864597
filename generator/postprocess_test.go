package generator

import "testing"

func TestParseDescription(t *testing.T) {
	ok := map[string]string{
		`{"prompt":"A model."}`:                     "A model.",
		"```json\n{\"prompt\": \" spaced \"}\n```": "spaced",
		"```\n{\"prompt\":\"bare fence\"}```":        "bare fence",
	}
	for raw, want := range ok {
		got, err := parseDescription(raw)
		if err != nil || got != want {
			t.Errorf("parseDescription(%q) = %q, %v; want %q", raw, got, err, want)
		}
	}

	for _, raw := range []string{"", "   ", "plain text", `{"text":"x"}`, `{"prompt":""}`, `{"prompt":null}`} {
		if _, err := parseDescription(raw); err == nil {
			t.Errorf("parseDescription(%q) should fail", raw)
		}
	}
}

func TestParseVerdict(t *testing.T) {
	cases := map[string]bool{
		"true":      true,
		" TRUE\n":   true,
		`"true"`:    true,
		"true.":     true,
		"false":     false,
		"":          false,
		"yes":       false,
		"true, but": false,
	}
	for in, want := range cases {
		if got := parseVerdict(in); got != want {
			t.Errorf("parseVerdict(%q) = %v, want %v", in, got, want)
		}
	}
}
