package artifact

import (
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Describe when no artifact exists at a path.
var ErrNotFound = errors.New("artifact: not found")

// Kind selects the storage area, naming prefix, and JPEG quality of an artifact.
type Kind string

const (
	KindUpload    Kind = "upload"
	KindModel     Kind = "model"
	KindComposite Kind = "tryon"
)

const extension = ".jpg"

// Options configures a Store. Zero values take the defaults shown.
type Options struct {
	UploadsDir string // "uploads"
	OutputDir  string // "imgs"
	URLPrefix  string // "/imgs"
}

// Metadata describes a persisted artifact at inspection time.
type Metadata struct {
	Path      string    `json:"image_path"`
	Filename  string    `json:"filename"`
	SizeKB    float64   `json:"file_size_kb"`
	Timestamp int64     `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
	URL       string    `json:"image_url"`
}

// Store persists image artifacts on the local filesystem. Uploads are
// ephemeral inputs; model and composite artifacts live in the output area
// and outlive any single run.
type Store struct {
	uploadsDir string
	outputDir  string
	uploadsAbs string
	urlPrefix  string
	strict     *regexp.Regexp
	now        func() time.Time
}

// NewStore creates the artifact directories if needed.
func NewStore(opts Options) (*Store, error) {
	if opts.UploadsDir == "" {
		opts.UploadsDir = "uploads"
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "imgs"
	}
	if opts.URLPrefix == "" {
		opts.URLPrefix = "/imgs"
	}
	for _, dir := range []string{opts.UploadsDir, opts.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("artifact: create %s: %w", dir, err)
		}
	}
	uploadsAbs, err := filepath.Abs(opts.UploadsDir)
	if err != nil {
		return nil, fmt.Errorf("artifact: %w", err)
	}
	outputDir := filepath.Clean(opts.OutputDir)
	prefix := "/" + strings.Trim(opts.URLPrefix, "/")
	if prefix == "/" {
		prefix = "/imgs"
	}
	return &Store{
		uploadsDir: filepath.Clean(opts.UploadsDir),
		outputDir:  outputDir,
		uploadsAbs: uploadsAbs,
		urlPrefix:  prefix,
		strict:     strictPattern(outputDir),
		now:        time.Now,
	}, nil
}

// OutputDir is the directory holding generated artifacts.
func (s *Store) OutputDir() string { return s.outputDir }

// UploadsDir is the directory holding ephemeral inputs.
func (s *Store) UploadsDir() string { return s.uploadsDir }

// URLPrefix is the URL path generated artifacts are served under, without a
// trailing slash.
func (s *Store) URLPrefix() string { return s.urlPrefix }

// Persist decodes data, flattens it to RGB, and writes it as a uniquely
// named JPEG for kind. Bytes that are not an image yield ErrUndecodable.
func (s *Store) Persist(data []byte, kind Kind) (string, error) {
	img, err := Decode(data)
	if err != nil {
		return "", err
	}
	return s.PersistImage(img, kind)
}

// PersistImage flattens img to RGB and writes it as a uniquely named JPEG.
// The file becomes visible under its final name only once fully written.
func (s *Store) PersistImage(img image.Image, kind Kind) (string, error) {
	dir, name, quality := s.layout(kind)
	body, err := encodeJPEG(FlattenRGB(img), quality)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("artifact: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("artifact: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("artifact: close: %w", err)
	}

	final := filepath.Join(dir, name)
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("artifact: rename: %w", err)
	}
	return final, nil
}

func (s *Store) layout(kind Kind) (dir, name string, quality int) {
	switch kind {
	case KindModel:
		return s.outputDir, "model_" + shortID() + extension, 95
	case KindComposite:
		return s.outputDir, "tryon_" + shortID() + extension, 90
	default:
		return s.uploadsDir, uuid.NewString() + extension, 90
	}
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Describe reports metadata for an existing artifact file.
func (s *Store) Describe(path string) (Metadata, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	ts := s.now().UnixMilli()
	name := filepath.Base(path)
	return Metadata{
		Path:      path,
		Filename:  name,
		SizeKB:    math.Round(float64(info.Size())/1024*100) / 100,
		Timestamp: ts,
		CreatedAt: info.ModTime(),
		URL:       s.urlPrefix + "/" + name + "?t=" + strconv.FormatInt(ts, 10),
	}, nil
}

// Delete removes an artifact. A missing file is not an error.
func (s *Store) Delete(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("artifact: delete %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path names a regular file.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
