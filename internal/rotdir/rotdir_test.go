package rotdir_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tripwire/passover/internal/rotdir"
)

const (
	testFileSize = 8 + 2 + 8 // header + one small frame
	testMapSize  = testFileSize
)

func TestBeginStreamStartsAtIndexZeroWithBaseOffsetZero(t *testing.T) {
	dir, err := rotdir.Open(t.TempDir(), 4, 4096, 256)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s, err := dir.BeginStream("worker0")
	if err != nil {
		t.Fatalf("BeginStream: %v", err)
	}
	off, err := s.Append([]byte("hi"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if off != 0 {
		t.Fatalf("first logical offset = %d, want 0", off)
	}
	if err := s.EndStream(); err != nil {
		t.Fatalf("EndStream: %v", err)
	}
}

func TestAppendRotatesOnFullCapacity(t *testing.T) {
	path := t.TempDir()
	dir, err := rotdir.Open(path, 10, testFileSize, testMapSize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s, err := dir.BeginStream("p")
	if err != nil {
		t.Fatalf("BeginStream: %v", err)
	}

	var offsets []uint64
	for i := 0; i < 5; i++ {
		off, err := s.Append([]byte("12345678"))
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		offsets = append(offsets, off)
	}
	if err := s.EndStream(); err != nil {
		t.Fatalf("EndStream: %v", err)
	}

	for i, off := range offsets {
		want := uint64(i) * 10 // each frame is 2 (length prefix) + 8 (payload) bytes
		if off != want {
			t.Fatalf("record %d logical offset = %d, want %d", i, off, want)
		}
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("got %d files, want 5 (one per record, each file holds exactly one frame)", len(entries))
	}
}

func TestReclamationIsFIFOAndBoundedByMaxFiles(t *testing.T) {
	path := t.TempDir()
	const maxFiles = 3
	dir, err := rotdir.Open(path, maxFiles, testFileSize, testMapSize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s, err := dir.BeginStream("p")
	if err != nil {
		t.Fatalf("BeginStream: %v", err)
	}

	const totalRecords = 10
	for i := 0; i < totalRecords; i++ {
		if _, err := s.Append([]byte("12345678")); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := s.EndStream(); err != nil {
		t.Fatalf("EndStream: %v", err)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != maxFiles {
		t.Fatalf("got %d files on disk, want %d (bounded by max_files)", len(entries), maxFiles)
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{"p.000007.rot", "p.000008.rot", "p.000009.rot"}
	for _, w := range want {
		found := false
		for _, n := range names {
			if n == w {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected surviving file %q among %v", w, names)
		}
	}

	if got := dir.FilesReclaimed(); got != totalRecords-maxFiles {
		t.Errorf("FilesReclaimed() = %d, want %d", got, totalRecords-maxFiles)
	}
}

func TestOpenRecoversHighestIndexAndBaseOffsetAcrossRestart(t *testing.T) {
	path := t.TempDir()
	dir1, err := rotdir.Open(path, 10, testFileSize, testMapSize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s, err := dir1.BeginStream("p")
	if err != nil {
		t.Fatalf("BeginStream: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Append([]byte("12345678")); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := s.EndStream(); err != nil {
		t.Fatalf("EndStream: %v", err)
	}

	dir2, err := rotdir.Open(path, 10, testFileSize, testMapSize)
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	s2, err := dir2.BeginStream("p")
	if err != nil {
		t.Fatalf("BeginStream after restart: %v", err)
	}
	off, err := s2.Append([]byte("12345678"))
	if err != nil {
		t.Fatalf("Append after restart: %v", err)
	}
	if off != 3*10 {
		t.Fatalf("post-restart logical offset = %d, want %d", off, 3*10)
	}

	if _, err := os.Stat(filepath.Join(path, "p.000003.rot")); err != nil {
		t.Fatalf("expected new file at recovered index 3: %v", err)
	}
}

func TestOpenRejectsPathThatIsNotADirectory(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-dir")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	f.Close()

	if _, err := rotdir.Open(f.Name(), 4, 4096, 256); err == nil {
		t.Fatalf("Open on a regular file: want error, got nil")
	}
}

func TestMultiplePrefixesRotateIndependently(t *testing.T) {
	path := t.TempDir()
	dir, err := rotdir.Open(path, 10, testFileSize, testMapSize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sa, err := dir.BeginStream("a")
	if err != nil {
		t.Fatalf("BeginStream a: %v", err)
	}
	sb, err := dir.BeginStream("b")
	if err != nil {
		t.Fatalf("BeginStream b: %v", err)
	}

	offA, err := sa.Append([]byte("12345678"))
	if err != nil {
		t.Fatalf("Append a: %v", err)
	}
	offB, err := sb.Append([]byte("12345678"))
	if err != nil {
		t.Fatalf("Append b: %v", err)
	}
	if offA != 0 || offB != 0 {
		t.Fatalf("independent prefixes should each start at offset 0, got a=%d b=%d", offA, offB)
	}
	sa.EndStream()
	sb.EndStream()
}
