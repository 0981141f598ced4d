package localfs

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ferryfm/ferry/internal/backend"
	"github.com/ferryfm/ferry/internal/constants"
)

// extractAll unpacks each source archive into the destination directory.
// Supported formats: .tar, .tar.gz, .tgz, .zip.
//
// Byte progress is measured against the archive files on disk (compressed
// bytes consumed), since uncompressed totals are not known without a full
// decompression pass. File totals count the archives; an archive counts as
// done once every entry is written.
func (w *worker) extractAll(sources []string, dest string) error {
	var totalBytes int64
	for _, src := range sources {
		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("scan %s: %w", src, err)
		}
		if info.IsDir() {
			return fmt.Errorf("extract %s: not an archive file", src)
		}
		totalBytes += info.Size()
	}
	w.meter.SetTotals(totalBytes, int64(len(sources)))

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	for _, src := range sources {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		if err := w.extractArchive(src, dest); err != nil {
			return err
		}
		w.meter.FileDone()
	}
	return nil
}

func (w *worker) extractArchive(src, dest string) error {
	name := strings.ToLower(src)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return w.extractZip(src, dest)
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return w.extractTar(src, dest, true)
	case strings.HasSuffix(name, ".tar"):
		return w.extractTar(src, dest, false)
	default:
		return fmt.Errorf("extract %s: unsupported archive format", src)
	}
}

func (w *worker) extractTar(src, dest string, gzipped bool) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	// Progress counts raw archive bytes consumed, before decompression.
	counted := &countingReader{r: f, meter: w.meter}

	var stream io.Reader = counted
	if gzipped {
		gz, err := gzip.NewReader(counted)
		if err != nil {
			return fmt.Errorf("read %s: %w", src, err)
		}
		defer gz.Close()
		stream = gz
	}

	tr := tar.NewReader(stream)
	for {
		if err := w.gate.Wait(w.ctx); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", src, err)
		}

		target, err := securePath(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create directory for %s: %w", target, err)
			}
			if err := w.writeEntry(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
		default:
			// Symlinks and special files are skipped; a file manager
			// extracting a foreign archive should not plant links.
		}
	}
}

func (w *worker) extractZip(src, dest string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer zr.Close()

	// zip reads entries via random access, so compressed-byte counting is
	// not available; charge each entry's compressed size as it completes.
	for _, entry := range zr.File {
		if err := w.gate.Wait(w.ctx); err != nil {
			return err
		}

		target, err := securePath(dest, entry.Name)
		if err != nil {
			return err
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", target, err)
		}
		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("extract %s: %w", entry.Name, err)
		}
		err = w.writeEntry(target, rc, entry.FileInfo().Mode().Perm())
		rc.Close()
		if err != nil {
			return fmt.Errorf("extract %s: %w", entry.Name, err)
		}
		w.meter.AddBytes(int64(entry.CompressedSize64))
	}
	return nil
}

// writeEntry writes one archive entry with the throttle applied but without
// charging the meter per chunk - extraction progress is tracked in archive
// bytes, not output bytes.
func (w *worker) writeEntry(target string, src io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	buf := make([]byte, constants.CopyChunkSize)
	for {
		if err := w.gate.Wait(w.ctx); err != nil {
			out.Close()
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if err := w.limiter.WaitN(w.ctx, n); err != nil {
				out.Close()
				return err
			}
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				return werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			return rerr
		}
	}
	return out.Close()
}

// securePath resolves an archive entry name under dest and rejects entries
// that would escape it (path traversal).
func securePath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}

// countingReader charges the meter for every raw byte read through it.
type countingReader struct {
	r     io.Reader
	meter *backend.Meter
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.meter.AddBytes(int64(n))
	}
	return n, err
}
