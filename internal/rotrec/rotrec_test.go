package rotrec_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/tripwire/passover/internal/perr"
	"github.com/tripwire/passover/internal/rotrec"
)

func TestAppendAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000000.trace")
	w, err := rotrec.Create(path, 0, 4096, 256)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	records := [][]byte{
		[]byte("hello"),
		[]byte("x"),
		[]byte("a longer payload with some more bytes in it"),
	}
	var offsets []uint64
	for _, r := range records {
		off, err := w.Append(r)
		if err != nil {
			t.Fatalf("Append(%q): %v", r, err)
		}
		offsets = append(offsets, off)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rd, err := rotrec.OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer rd.Close()

	if rd.BaseOffset() != 0 {
		t.Fatalf("BaseOffset() = %d, want 0", rd.BaseOffset())
	}

	for i, want := range records {
		gotOff := rd.LogicalOffset()
		if gotOff != offsets[i] {
			t.Fatalf("record %d: LogicalOffset() = %d, want %d", i, gotOff, offsets[i])
		}
		got, err := rd.Next()
		if err != nil {
			t.Fatalf("record %d: Next(): %v", i, err)
		}
		if string(got) != string(want) {
			t.Fatalf("record %d: got %q, want %q", i, got, want)
		}
	}

	if _, err := rd.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("final Next(): err = %v, want io.EOF", err)
	}
}

func TestAppendReturnsErrFullWhenCapacityExhausted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000000.trace")
	w, err := rotrec.Create(path, 0, 8+2+4, 8+2+4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Close()

	if _, err := w.Append([]byte("abcd")); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if _, err := w.Append([]byte("x")); !errors.Is(err, rotrec.ErrFull) {
		t.Fatalf("second Append: err = %v, want ErrFull", err)
	}
}

func TestCreateRejectsMapSizeLargerThanFileSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000000.trace")
	_, err := rotrec.Create(path, 0, 128, 256)
	if !errors.Is(err, perr.ErrConfig) {
		t.Fatalf("Create: err = %v, want perr.ErrConfig", err)
	}
}

func TestBaseOffsetIsPreservedForNonZeroRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000003.trace")
	w, err := rotrec.Create(path, 12345, 4096, 256)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	off, err := w.Append([]byte("x"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if off != 12345 {
		t.Fatalf("first record logical offset = %d, want 12345", off)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rd, err := rotrec.OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer rd.Close()
	if rd.BaseOffset() != 12345 {
		t.Fatalf("BaseOffset() = %d, want 12345", rd.BaseOffset())
	}
}

func TestNextReturnsErrTruncatedOnShortFinalFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000000.trace")
	w, err := rotrec.Create(path, 0, 4096, 256)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Append([]byte("complete")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Append a frame header announcing more payload than is ever written,
	// simulating a process killed mid-append.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.Write([]byte{0xFF, 0x7F}); err != nil { // length = 0x7FFF, far more than follows
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close file: %v", err)
	}

	rd, err := rotrec.OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer rd.Close()

	if _, err := rd.Next(); err != nil {
		t.Fatalf("first Next(): %v", err)
	}
	if _, err := rd.Next(); !errors.Is(err, rotrec.ErrTruncated) {
		t.Fatalf("second Next(): err = %v, want ErrTruncated", err)
	}
}

func TestSeekPhysicalRepositionsReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000000.trace")
	w, err := rotrec.Create(path, 0, 4096, 256)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Append([]byte("first")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	secondOff, err := w.Append([]byte("second"))
	_ = secondOff
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rd, err := rotrec.OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer rd.Close()

	if err := rd.SeekPhysical(int64(rotrec.HeaderSize + 2 + len("first"))); err != nil {
		t.Fatalf("SeekPhysical: %v", err)
	}
	got, err := rd.Next()
	if err != nil {
		t.Fatalf("Next() after seek: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("Next() after seek = %q, want %q", got, "second")
	}
}
