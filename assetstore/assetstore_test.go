package assetstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fairwaylabs/fairway/imghash"
)

// validJPEG returns a buffer that passes structural validation: SOI marker
// plus enough padding to clear the minimum size.
func validJPEG(seed byte) []byte {
	data := make([]byte, MinSize+64)
	data[0] = 0xFF
	data[1] = 0xD8
	for i := 2; i < len(data); i++ {
		data[i] = seed
	}
	return data
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestPutAndLookup(t *testing.T) {
	// WHAT: A stored asset is findable by its content digest.
	// WHY: Lookup-before-put is how the acquisition engine dedups downloads.
	s := openTestStore(t)

	data := validJPEG(1)
	filename, err := s.Put(data, "article_01_img_1")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if filename != "article_01_img_1.jpg" {
		t.Errorf("filename: got %q", filename)
	}

	digest := digestOf(data)
	got, ok := s.Lookup(digest)
	if !ok || got != filename {
		t.Errorf("lookup: got %q, %v", got, ok)
	}
}

func TestPutIdenticalContentKeepsOneFile(t *testing.T) {
	// WHAT: Putting the same bytes twice, even under different base names,
	// returns the original filename and writes no second file.
	// WHY: Acquisition is concurrent; two goroutines can both miss Lookup
	// and reach Put with identical bytes. The digest must still map to
	// exactly one stored file.
	s := openTestStore(t)

	data := validJPEG(9)
	first, err := s.Put(data, "article_01_img_1")
	if err != nil {
		t.Fatalf("first put: %v", err)
	}
	second, err := s.Put(data, "article_01_img_2")
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if second != first {
		t.Fatalf("identical content got two filenames: %q and %q", first, second)
	}
	if st := s.Stat(); st.Assets != 1 {
		t.Errorf("assets: got %d, want 1", st.Assets)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "article_01_img_2.jpg")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("second file written anyway: %v", err)
	}
}

func TestPutCollisionSuffix(t *testing.T) {
	// WHAT: Two different contents under the same base name get distinct files.
	// WHY: Retried documents reuse placeholder indices; bytes must never be overwritten.
	s := openTestStore(t)

	first, err := s.Put(validJPEG(1), "article_01_img_1")
	if err != nil {
		t.Fatalf("first put: %v", err)
	}
	second, err := s.Put(validJPEG(2), "article_01_img_1")
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if first == second {
		t.Fatalf("collision not resolved: both %q", first)
	}
	if second != "article_01_img_1_1.jpg" {
		t.Errorf("suffix: got %q", second)
	}
}

func TestPutRejectsHTML(t *testing.T) {
	// WHAT: An HTML error page is rejected regardless of requested name.
	// WHY: Origins answer image URLs with styled 200 error pages.
	s := openTestStore(t)

	page := append([]byte("<!doctype html><html><body>Not Found</body></html>"),
		bytes.Repeat([]byte(" "), MinSize)...)
	if _, err := s.Put(page, "article_01_img_1"); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("want ErrInvalidImage, got %v", err)
	}
}

func TestPutRejectsTinyAndUnknown(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Put([]byte{0xFF, 0xD8, 0x00}, "a"); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("tiny buffer: want ErrInvalidImage, got %v", err)
	}
	junk := bytes.Repeat([]byte("x"), MinSize*2)
	if _, err := s.Put(junk, "a"); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("unknown format: want ErrInvalidImage, got %v", err)
	}
}

func TestLookupPurgesStaleEntry(t *testing.T) {
	// WHAT: A digest whose backing file vanished is reported absent and purged.
	// WHY: Index and filesystem diverge under manual cleanup; the store self-heals.
	s := openTestStore(t)

	data := validJPEG(3)
	filename, err := s.Put(data, "article_02_img_1")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.Remove(filepath.Join(s.Dir(), filename)); err != nil {
		t.Fatalf("remove backing file: %v", err)
	}

	if got, ok := s.Lookup(digestOf(data)); ok {
		t.Fatalf("stale entry returned: %q", got)
	}
	// Persisted index no longer references the file.
	raw, err := os.ReadFile(filepath.Join(s.Dir(), IndexFilename))
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	var idx map[string]string
	if err := json.Unmarshal(raw, &idx); err != nil {
		t.Fatalf("unmarshal index: %v", err)
	}
	if _, ok := idx[filename]; ok {
		t.Error("purged entry still persisted")
	}
}

func TestOpenPurgesStaleAndSurvivesCorruptIndex(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	filename, err := s.Put(validJPEG(4), "article_03_img_1")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	os.Remove(filepath.Join(dir, filename))

	// Reopen: the stale entry is gone.
	s2, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if st := s2.Stat(); st.Assets != 0 {
		t.Errorf("stale entry survived reopen: %d assets", st.Assets)
	}

	// Corrupt index degrades to empty, not error.
	os.WriteFile(filepath.Join(dir, IndexFilename), []byte("{not json"), 0o644)
	s3, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open with corrupt index: %v", err)
	}
	if st := s3.Stat(); st.Assets != 0 {
		t.Errorf("corrupt index produced %d assets", st.Assets)
	}
}

func TestCleanupAndStat(t *testing.T) {
	s := openTestStore(t)

	f1, _ := s.Put(validJPEG(5), "article_04_img_1")
	s.Put(validJPEG(6), "article_04_img_2")
	os.Remove(filepath.Join(s.Dir(), f1))

	purged, err := s.Cleanup()
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged: got %d, want 1", purged)
	}
	st := s.Stat()
	if st.Assets != 1 {
		t.Errorf("assets: got %d, want 1", st.Assets)
	}
	if st.TotalBytes != int64(MinSize+64) {
		t.Errorf("total bytes: got %d", st.TotalBytes)
	}
}

func digestOf(data []byte) string {
	return imghash.Digest(data)
}
