package artifact

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrResolutionMiss marks stage output that did not name an existing artifact.
var ErrResolutionMiss = errors.New("artifact: no existing artifact path in stage output")

var loosePattern = regexp.MustCompile(`[A-Za-z0-9_./-]+\.jpg`)

// Resolution is the outcome of Resolve. When Resolved is false, Path holds
// the original output unchanged.
type Resolution struct {
	Path      string
	Resolved  bool
	Heuristic bool
}

// Resolve extracts an existing artifact path from stage output. A canonical
// path is returned as-is; otherwise embedded candidates are tried, strict
// (output directory prefix) before loose, and the first one on disk wins.
// Candidates in the uploads area are never generated artifacts and are skipped.
func (s *Store) Resolve(output string) Resolution {
	trimmed := strings.TrimSpace(output)
	if s.isCanonical(trimmed) && s.Exists(trimmed) {
		return Resolution{Path: trimmed, Resolved: true}
	}

	for _, re := range []*regexp.Regexp{s.strict, loosePattern} {
		for _, candidate := range re.FindAllString(output, -1) {
			if s.isUpload(candidate) || !s.Exists(candidate) {
				continue
			}
			return Resolution{Path: candidate, Resolved: true, Heuristic: true}
		}
	}
	return Resolution{Path: output}
}

func (s *Store) isCanonical(path string) bool {
	if !strings.HasSuffix(path, extension) {
		return false
	}
	dir := filepath.ToSlash(s.outputDir) + "/"
	return strings.HasPrefix(filepath.ToSlash(path), dir)
}

// isUpload reports whether path lies inside the uploads directory.
func (s *Store) isUpload(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(s.uploadsAbs, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func strictPattern(outputDir string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(filepath.ToSlash(outputDir)) + `/[A-Za-z0-9_-]+\.jpg`)
}
