package localfs

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ferryfm/ferry/internal/backend"
)

// waitSink records progress and signals the terminal outcome.
type waitSink struct {
	mu      sync.Mutex
	updates []backend.ProgressUpdate
	done    chan backend.Outcome
}

func newWaitSink() *waitSink {
	return &waitSink{done: make(chan backend.Outcome, 1)}
}

func (s *waitSink) Progress(id string, u backend.ProgressUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
}

func (s *waitSink) Terminal(id string, o backend.Outcome) {
	s.done <- o
}

func (s *waitSink) wait(t *testing.T) backend.Outcome {
	t.Helper()
	select {
	case o := <-s.done:
		return o
	case <-time.After(10 * time.Second):
		t.Fatal("transfer did not finish")
		return backend.Outcome{}
	}
}

func (s *waitSink) sawTotals(bytesTotal, filesTotal int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.updates {
		if u.BytesTotal == bytesTotal && u.FilesTotal == filesTotal {
			return true
		}
	}
	return false
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(raw)
}

func start(t *testing.T, b *Backend, req backend.StartRequest) {
	t.Helper()
	if err := b.Start(req); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

func TestCopySingleFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "notes.txt")
	dest := filepath.Join(dir, "dest")
	writeFile(t, src, "hello ferry")

	sink := newWaitSink()
	b := New(sink, nil)
	start(t, b, backend.StartRequest{ID: "t1", Kind: backend.KindCopy, Sources: []string{src}, Destination: dest})

	if o := sink.wait(t); o.Kind != backend.OutcomeSuccess {
		t.Fatalf("expected success, got %+v", o)
	}
	if got := readFile(t, filepath.Join(dest, "notes.txt")); got != "hello ferry" {
		t.Errorf("copied content %q", got)
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("copy removed the source")
	}
	if !sink.sawTotals(int64(len("hello ferry")), 1) {
		t.Error("scan totals never reported")
	}
}

func TestCopyDirectoryTree(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "project")
	writeFile(t, filepath.Join(root, "a.txt"), "alpha")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "beta")
	dest := filepath.Join(dir, "dest")

	sink := newWaitSink()
	b := New(sink, nil)
	start(t, b, backend.StartRequest{ID: "t1", Kind: backend.KindCopy, Sources: []string{root}, Destination: dest})

	if o := sink.wait(t); o.Kind != backend.OutcomeSuccess {
		t.Fatalf("expected success, got %+v", o)
	}
	if got := readFile(t, filepath.Join(dest, "project", "a.txt")); got != "alpha" {
		t.Errorf("a.txt content %q", got)
	}
	if got := readFile(t, filepath.Join(dest, "project", "sub", "b.txt")); got != "beta" {
		t.Errorf("b.txt content %q", got)
	}
}

func TestMoveRemovesSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "data.bin")
	dest := filepath.Join(dir, "dest")
	writeFile(t, src, "payload")

	sink := newWaitSink()
	b := New(sink, nil)
	start(t, b, backend.StartRequest{ID: "t1", Kind: backend.KindMove, Sources: []string{src}, Destination: dest})

	if o := sink.wait(t); o.Kind != backend.OutcomeSuccess {
		t.Fatalf("expected success, got %+v", o)
	}
	if got := readFile(t, filepath.Join(dest, "data.bin")); got != "payload" {
		t.Errorf("moved content %q", got)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("move left the source behind")
	}
}

func TestMoveOverExistingTarget(t *testing.T) {
	// Rename fast path is skipped when the target exists; the copy path
	// overwrites it and still removes the source.
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "data.bin")
	dest := filepath.Join(dir, "dest")
	writeFile(t, src, "new content")
	writeFile(t, filepath.Join(dest, "data.bin"), "old content")

	sink := newWaitSink()
	b := New(sink, nil)
	start(t, b, backend.StartRequest{ID: "t1", Kind: backend.KindMove, Sources: []string{src}, Destination: dest})

	if o := sink.wait(t); o.Kind != backend.OutcomeSuccess {
		t.Fatalf("expected success, got %+v", o)
	}
	if got := readFile(t, filepath.Join(dest, "data.bin")); got != "new content" {
		t.Errorf("target content %q", got)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("move left the source behind")
	}
}

func makeTarGz(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, buf.String())
}

func makeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, buf.String())
}

func TestExtractTarGz(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.tar.gz")
	dest := filepath.Join(dir, "out")
	makeTarGz(t, archive, map[string]string{
		"readme.md":    "docs",
		"src/main.txt": "code",
	})

	sink := newWaitSink()
	b := New(sink, nil)
	start(t, b, backend.StartRequest{ID: "t1", Kind: backend.KindExtract, Sources: []string{archive}, Destination: dest})

	if o := sink.wait(t); o.Kind != backend.OutcomeSuccess {
		t.Fatalf("expected success, got %+v", o)
	}
	if got := readFile(t, filepath.Join(dest, "readme.md")); got != "docs" {
		t.Errorf("readme content %q", got)
	}
	if got := readFile(t, filepath.Join(dest, "src", "main.txt")); got != "code" {
		t.Errorf("nested content %q", got)
	}
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.zip")
	dest := filepath.Join(dir, "out")
	makeZip(t, archive, map[string]string{"a.txt": "zipped"})

	sink := newWaitSink()
	b := New(sink, nil)
	start(t, b, backend.StartRequest{ID: "t1", Kind: backend.KindExtract, Sources: []string{archive}, Destination: dest})

	if o := sink.wait(t); o.Kind != backend.OutcomeSuccess {
		t.Fatalf("expected success, got %+v", o)
	}
	if got := readFile(t, filepath.Join(dest, "a.txt")); got != "zipped" {
		t.Errorf("extracted content %q", got)
	}
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar.gz")
	dest := filepath.Join(dir, "out")
	makeTarGz(t, archive, map[string]string{"../escaped.txt": "evil"})

	sink := newWaitSink()
	b := New(sink, nil)
	start(t, b, backend.StartRequest{ID: "t1", Kind: backend.KindExtract, Sources: []string{archive}, Destination: dest})

	o := sink.wait(t)
	if o.Kind != backend.OutcomeError {
		t.Fatalf("expected failure, got %+v", o)
	}
	if !strings.Contains(o.Message, "escapes destination") {
		t.Errorf("unexpected error %q", o.Message)
	}
	if _, err := os.Stat(filepath.Join(dir, "escaped.txt")); !os.IsNotExist(err) {
		t.Error("traversal entry was written outside the destination")
	}
}

func TestExtractUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.rar")
	writeFile(t, archive, "not really an archive")

	sink := newWaitSink()
	b := New(sink, nil)
	start(t, b, backend.StartRequest{ID: "t1", Kind: backend.KindExtract, Sources: []string{archive}, Destination: filepath.Join(dir, "out")})

	o := sink.wait(t)
	if o.Kind != backend.OutcomeError {
		t.Fatalf("expected failure, got %+v", o)
	}
	if !strings.Contains(o.Message, "unsupported archive format") {
		t.Errorf("unexpected error %q", o.Message)
	}
}

func TestCancelAcknowledgedWithTerminal(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "big.bin")
	writeFile(t, src, strings.Repeat("x", 256*1024))

	sink := newWaitSink()
	b := New(sink, nil)
	// Heavy throttle so the worker is mid-chunk when the cancel lands.
	start(t, b, backend.StartRequest{
		ID: "t1", Kind: backend.KindCopy,
		Sources: []string{src}, Destination: filepath.Join(dir, "out"),
		BandwidthLimit: 1024,
	})

	time.Sleep(100 * time.Millisecond)
	if err := b.Cancel("t1"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	if o := sink.wait(t); o.Kind != backend.OutcomeCancelled {
		t.Errorf("expected cancelled, got %+v", o)
	}
}

func TestPauseSuspendsAndResumeCompletes(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "data.bin")
	writeFile(t, src, strings.Repeat("x", 8*1024))

	sink := newWaitSink()
	b := New(sink, nil)
	start(t, b, backend.StartRequest{
		ID: "t1", Kind: backend.KindCopy,
		Sources: []string{src}, Destination: filepath.Join(dir, "out"),
		BandwidthLimit: 1024,
	})

	time.Sleep(100 * time.Millisecond)
	if err := b.Pause("t1"); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	b.SetBandwidthLimit(0) // let any in-flight throttle wait drain

	select {
	case o := <-sink.done:
		t.Fatalf("paused transfer finished: %+v", o)
	case <-time.After(2 * time.Second):
	}

	if err := b.Resume("t1"); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if o := sink.wait(t); o.Kind != backend.OutcomeSuccess {
		t.Errorf("expected success after resume, got %+v", o)
	}
}

func TestStartValidation(t *testing.T) {
	b := New(newWaitSink(), nil)

	err := b.Start(backend.StartRequest{ID: "t1", Kind: "teleport", Sources: []string{"/x"}, Destination: "/y"})
	if err == nil || !strings.Contains(err.Error(), "unsupported transfer kind") {
		t.Errorf("expected kind rejection, got %v", err)
	}

	err = b.Start(backend.StartRequest{ID: "t1", Kind: backend.KindCopy, Destination: "/y"})
	if err == nil || !strings.Contains(err.Error(), "no sources") {
		t.Errorf("expected source rejection, got %v", err)
	}
}

func TestControlSignalsForUnknownTransfer(t *testing.T) {
	b := New(newWaitSink(), nil)
	if err := b.Pause("ghost"); err == nil {
		t.Error("Pause accepted an unknown id")
	}
	if err := b.Resume("ghost"); err == nil {
		t.Error("Resume accepted an unknown id")
	}
	if err := b.Cancel("ghost"); err == nil {
		t.Error("Cancel accepted an unknown id")
	}
}

func TestMissingSourceFails(t *testing.T) {
	dir := t.TempDir()
	sink := newWaitSink()
	b := New(sink, nil)
	start(t, b, backend.StartRequest{
		ID: "t1", Kind: backend.KindCopy,
		Sources: []string{filepath.Join(dir, "nope.txt")}, Destination: filepath.Join(dir, "out"),
	})

	if o := sink.wait(t); o.Kind != backend.OutcomeError {
		t.Errorf("expected failure for missing source, got %+v", o)
	}
}
