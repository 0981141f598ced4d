package localfs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ferryfm/ferry/internal/backend"
	"github.com/ferryfm/ferry/internal/constants"
	"github.com/ferryfm/ferry/internal/ratelimit"
)

// worker carries the per-transfer execution context: cancellation, the
// pause gate, the shared throttle and the progress meter.
type worker struct {
	ctx     context.Context
	gate    *backend.Gate
	limiter *ratelimit.Limiter
	meter   *backend.Meter
}

// fileEntry is one regular file discovered by the scan pass.
type fileEntry struct {
	path string // absolute source path
	rel  string // path relative to the source root ("" for a plain file)
	size int64
	mode fs.FileMode
}

// sourceSet is one top-level source path and the files beneath it.
type sourceSet struct {
	root  string
	isDir bool
	files []fileEntry
	bytes int64
}

// scan walks every source and totals bytes and file counts so progress can
// be reported against fixed totals.
func (w *worker) scan(sources []string) ([]sourceSet, int64, int64, error) {
	var sets []sourceSet
	var totalBytes, totalFiles int64

	for _, src := range sources {
		info, err := os.Stat(src)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("scan %s: %w", src, err)
		}

		set := sourceSet{root: src, isDir: info.IsDir()}
		if !info.IsDir() {
			set.files = append(set.files, fileEntry{path: src, size: info.Size(), mode: info.Mode()})
			set.bytes = info.Size()
		} else {
			err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return nil
				}
				fi, err := d.Info()
				if err != nil {
					return err
				}
				rel, err := filepath.Rel(src, path)
				if err != nil {
					return err
				}
				set.files = append(set.files, fileEntry{path: path, rel: rel, size: fi.Size(), mode: fi.Mode()})
				set.bytes += fi.Size()
				return nil
			})
			if err != nil {
				return nil, 0, 0, fmt.Errorf("scan %s: %w", src, err)
			}
		}

		totalBytes += set.bytes
		totalFiles += int64(len(set.files))
		sets = append(sets, set)
	}
	return sets, totalBytes, totalFiles, nil
}

// copyAll copies every source into the destination directory. With
// removeSource set it behaves as a move: same-device sources are renamed in
// one step, everything else is copied and then removed.
func (w *worker) copyAll(sources []string, dest string, removeSource bool) error {
	sets, totalBytes, totalFiles, err := w.scan(sources)
	if err != nil {
		return err
	}
	w.meter.SetTotals(totalBytes, totalFiles)

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	for _, set := range sets {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.Base(set.root))

		if removeSource {
			// Fast path: a rename moves the whole source without data I/O.
			if _, err := os.Stat(target); os.IsNotExist(err) {
				if os.Rename(set.root, target) == nil {
					w.meter.AddBytes(set.bytes)
					for range set.files {
						w.meter.FileDone()
					}
					continue
				}
			}
		}

		if err := w.copySet(set, target); err != nil {
			return err
		}
		if removeSource {
			if err := os.RemoveAll(set.root); err != nil {
				return fmt.Errorf("remove source %s: %w", set.root, err)
			}
		}
	}
	return nil
}

func (w *worker) copySet(set sourceSet, target string) error {
	for _, f := range set.files {
		if err := w.ctx.Err(); err != nil {
			return err
		}

		dst := target
		if set.isDir {
			dst = filepath.Join(target, f.rel)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", dst, err)
		}
		if err := w.copyFile(f.path, dst, f.mode); err != nil {
			return err
		}
		w.meter.FileDone()
	}
	return nil
}

// copyFile streams one file chunk by chunk, honoring the pause gate and the
// bandwidth limiter between chunks.
func (w *worker) copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	if err := w.copyStream(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

// copyStream is the shared chunk loop for file copies and extraction.
func (w *worker) copyStream(dst io.Writer, src io.Reader) error {
	buf := make([]byte, constants.CopyChunkSize)
	for {
		if err := w.gate.Wait(w.ctx); err != nil {
			return err
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if err := w.limiter.WaitN(w.ctx, n); err != nil {
				return err
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			w.meter.AddBytes(int64(n))
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
