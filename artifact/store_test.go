package artifact

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := NewStore(Options{
		UploadsDir: filepath.Join(root, "uploads"),
		OutputDir:  filepath.Join(root, "imgs"),
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func translucent(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.SetNRGBA(x, y, color.NRGBA{R: 200, A: 255})
			} // right half stays fully transparent
		}
	}
	return img
}

func TestPersist_RGBAFlattensToWhiteKeepingDimensions(t *testing.T) {
	s := newTestStore(t)
	path, err := s.Persist(pngBytes(t, translucent(40, 30)), KindUpload)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if filepath.Dir(path) != s.UploadsDir() {
		t.Errorf("upload written to %s, want dir %s", path, s.UploadsDir())
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	out, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if got := out.Bounds().Size(); got != (image.Point{X: 40, Y: 30}) {
		t.Fatalf("size = %v, want 40x30", got)
	}
	if _, ok := out.(*image.YCbCr); !ok {
		t.Errorf("decoded model %T, want 3-channel YCbCr", out)
	}
	r, g, b, _ := out.At(35, 15).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Errorf("transparent region = (%d,%d,%d), want near white", r>>8, g>>8, b>>8)
	}
}

func TestPersist_NamingByKind(t *testing.T) {
	s := newTestStore(t)
	data := pngBytes(t, image.NewGray(image.Rect(0, 0, 4, 4)))

	cases := []struct {
		kind   Kind
		dir    string
		prefix string
	}{
		{KindUpload, s.UploadsDir(), ""},
		{KindModel, s.OutputDir(), "model_"},
		{KindComposite, s.OutputDir(), "tryon_"},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			path, err := s.Persist(data, tc.kind)
			if err != nil {
				t.Fatalf("Persist: %v", err)
			}
			if filepath.Dir(path) != tc.dir {
				t.Errorf("dir = %s, want %s", filepath.Dir(path), tc.dir)
			}
			name := filepath.Base(path)
			if !strings.HasPrefix(name, tc.prefix) || !strings.HasSuffix(name, ".jpg") {
				t.Errorf("name %q lacks prefix %q or .jpg", name, tc.prefix)
			}
		})
	}
}

func TestPersist_UniqueUnderConcurrency(t *testing.T) {
	s := newTestStore(t)
	data := pngBytes(t, image.NewGray(image.Rect(0, 0, 2, 2)))

	const n = 32
	paths := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := s.Persist(data, KindComposite)
			if err != nil {
				t.Errorf("Persist: %v", err)
			}
			paths[i] = p
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, p := range paths {
		if seen[p] {
			t.Fatalf("duplicate artifact path %s", p)
		}
		seen[p] = true
	}
	entries, err := os.ReadDir(s.OutputDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".partial-") {
			t.Errorf("partial file left behind: %s", e.Name())
		}
	}
	if len(entries) != n {
		t.Errorf("found %d files, want %d", len(entries), n)
	}
}

func TestPersist_Undecodable(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Persist([]byte("definitely not an image"), KindUpload)
	if !errors.Is(err, ErrUndecodable) {
		t.Fatalf("err = %v, want ErrUndecodable", err)
	}
	entries, _ := os.ReadDir(s.UploadsDir())
	if len(entries) != 0 {
		t.Errorf("undecodable input left %d files", len(entries))
	}
}

func TestDescribe(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.UnixMilli(1700000000123) }
	path, err := s.Persist(pngBytes(t, image.NewGray(image.Rect(0, 0, 8, 8))), KindModel)
	if err != nil {
		t.Fatal(err)
	}

	meta, err := s.Describe(path)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	name := filepath.Base(path)
	if meta.Filename != name || meta.Path != path {
		t.Errorf("meta = %+v", meta)
	}
	if meta.SizeKB <= 0 {
		t.Errorf("SizeKB = %v, want > 0", meta.SizeKB)
	}
	if want := "/imgs/" + name + "?t=1700000000123"; meta.URL != want {
		t.Errorf("URL = %q, want %q", meta.URL, want)
	}

	if _, err := s.Describe(filepath.Join(s.OutputDir(), "missing.jpg")); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing file err = %v, want ErrNotFound", err)
	}
	if _, err := s.Describe(s.OutputDir()); !errors.Is(err, ErrNotFound) {
		t.Errorf("directory err = %v, want ErrNotFound", err)
	}
}

func TestDelete_Idempotent(t *testing.T) {
	s := newTestStore(t)
	path, err := s.Persist(pngBytes(t, image.NewGray(image.Rect(0, 0, 2, 2))), KindUpload)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Delete(path); err != nil {
			t.Fatalf("Delete #%d: %v", i+1, err)
		}
	}
	if s.Exists(path) {
		t.Error("file still exists after Delete")
	}
	if err := s.Delete(""); err != nil {
		t.Errorf("Delete(\"\") = %v", err)
	}
}

func TestNewStore_URLPrefix(t *testing.T) {
	cases := map[string]string{
		"":        "/imgs",
		"/":       "/imgs",
		"/media/": "/media",
		"static":  "/static",
		"/a/b":    "/a/b",
	}
	for in, want := range cases {
		root := t.TempDir()
		s, err := NewStore(Options{
			UploadsDir: filepath.Join(root, "uploads"),
			OutputDir:  filepath.Join(root, "out"),
			URLPrefix:  in,
		})
		if err != nil {
			t.Fatal(err)
		}
		if got := s.URLPrefix(); got != want {
			t.Errorf("URLPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
