package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ferryfm/ferry/internal/backend"
	"github.com/ferryfm/ferry/internal/constants"
	"github.com/ferryfm/ferry/internal/logging"
	"github.com/ferryfm/ferry/internal/ratelimit"
)

// Backend executes copy and move transfers where one side is an
// s3://bucket/key object. Uploads stream local files into objects,
// downloads stream objects into a local directory. Extract is not
// supported against object storage.
type Backend struct {
	mu   sync.Mutex
	jobs map[string]*job

	client  *awss3.Client
	sink    backend.EventSink
	limiter *ratelimit.Limiter
	log     *logging.Logger
}

type job struct {
	id     string
	cancel context.CancelFunc
	gate   *backend.Gate
}

// New creates an object storage backend reporting through sink.
func New(client *awss3.Client, sink backend.EventSink, log *logging.Logger) *Backend {
	if log == nil {
		log = logging.Nop()
	}
	return &Backend{
		jobs:    make(map[string]*job),
		client:  client,
		sink:    sink,
		limiter: ratelimit.NewLimiter(0),
		log:     log,
	}
}

// SetBandwidthLimit reconfigures the shared throttle.
func (b *Backend) SetBandwidthLimit(bytesPerSec int64) {
	b.limiter.Reconfigure(bytesPerSec)
}

// Start validates the request and launches the worker goroutine.
func (b *Backend) Start(req backend.StartRequest) error {
	if req.Kind != backend.KindCopy && req.Kind != backend.KindMove {
		return fmt.Errorf("s3: unsupported transfer kind %q", req.Kind)
	}
	if len(req.Sources) == 0 {
		return fmt.Errorf("s3: no sources for transfer %s", req.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{id: req.ID, cancel: cancel, gate: backend.NewGate()}

	b.mu.Lock()
	if _, exists := b.jobs[req.ID]; exists {
		b.mu.Unlock()
		cancel()
		return fmt.Errorf("s3: transfer %s already running", req.ID)
	}
	b.jobs[req.ID] = j
	b.mu.Unlock()

	b.limiter.Reconfigure(req.BandwidthLimit)

	go b.run(ctx, j, req)
	return nil
}

// Pause closes the transfer's gate.
func (b *Backend) Pause(id string) error {
	j, err := b.lookup(id)
	if err != nil {
		return err
	}
	j.gate.Pause()
	return nil
}

// Resume reopens the transfer's gate.
func (b *Backend) Resume(id string) error {
	j, err := b.lookup(id)
	if err != nil {
		return err
	}
	j.gate.Resume()
	return nil
}

// Cancel cancels the transfer's context; the worker acknowledges with a
// terminal cancelled event.
func (b *Backend) Cancel(id string) error {
	j, err := b.lookup(id)
	if err != nil {
		return err
	}
	j.cancel()
	j.gate.Resume()
	return nil
}

func (b *Backend) lookup(id string) (*job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	if !ok {
		return nil, fmt.Errorf("s3: no running transfer %s", id)
	}
	return j, nil
}

func (b *Backend) run(ctx context.Context, j *job, req backend.StartRequest) {
	defer func() {
		b.mu.Lock()
		delete(b.jobs, j.id)
		b.mu.Unlock()
		j.cancel()
	}()

	meter := backend.NewMeter(b.sink, j.id)
	err := b.execute(ctx, j, req, meter)

	meter.Flush()
	switch {
	case ctx.Err() != nil:
		b.log.Debugf("transfer %s cancelled", j.id)
		b.sink.Terminal(j.id, backend.Cancelled())
	case err != nil:
		b.log.Warnf("transfer %s failed: %v", j.id, err)
		b.sink.Terminal(j.id, backend.Failure(err.Error()))
	default:
		b.sink.Terminal(j.id, backend.Success())
	}
}

func (b *Backend) execute(ctx context.Context, j *job, req backend.StartRequest, meter *backend.Meter) error {
	if _, _, ok := ParseObjectURL(req.Destination); ok {
		return b.uploadAll(ctx, j, req, meter)
	}
	return b.downloadAll(ctx, j, req, meter)
}

// uploadAll streams local files into objects under the destination prefix.
func (b *Backend) uploadAll(ctx context.Context, j *job, req backend.StartRequest, meter *backend.Meter) error {
	bucket, prefix, _ := ParseObjectURL(req.Destination)

	var totalBytes int64
	sizes := make([]int64, len(req.Sources))
	for i, src := range req.Sources {
		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("scan %s: %w", src, err)
		}
		if info.IsDir() {
			return fmt.Errorf("upload %s: directory uploads are not supported", src)
		}
		sizes[i] = info.Size()
		totalBytes += info.Size()
	}
	meter.SetTotals(totalBytes, int64(len(req.Sources)))

	for i, src := range req.Sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := path.Join(prefix, filepath.Base(src))
		if err := b.uploadFile(ctx, j, bucket, key, src, sizes[i], meter); err != nil {
			return err
		}
		meter.FileDone()
		if req.Kind == backend.KindMove {
			if err := os.Remove(src); err != nil {
				return fmt.Errorf("remove source %s: %w", src, err)
			}
		}
	}
	return nil
}

func (b *Backend) uploadFile(ctx context.Context, j *job, bucket, key, src string, size int64, meter *backend.Meter) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	body := &meteredReader{
		ctx:   ctx,
		r:     ratelimit.NewThrottledReader(ctx, f, b.limiter),
		gate:  j.gate,
		meter: meter,
	}

	_, err = b.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("upload %s to s3://%s/%s: %w", src, bucket, key, err)
	}
	return nil
}

// downloadAll streams objects into the destination directory.
func (b *Backend) downloadAll(ctx context.Context, j *job, req backend.StartRequest, meter *backend.Meter) error {
	type object struct {
		bucket, key string
		size        int64
	}

	objects := make([]object, 0, len(req.Sources))
	var totalBytes int64
	for _, src := range req.Sources {
		bucket, key, ok := ParseObjectURL(src)
		if !ok {
			return fmt.Errorf("download %s: not an s3:// URL", src)
		}
		head, err := b.client.HeadObject(ctx, &awss3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("stat s3://%s/%s: %w", bucket, key, err)
		}
		size := aws.ToInt64(head.ContentLength)
		objects = append(objects, object{bucket: bucket, key: key, size: size})
		totalBytes += size
	}
	meter.SetTotals(totalBytes, int64(len(objects)))

	if err := os.MkdirAll(req.Destination, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(req.Destination, path.Base(obj.key))
		if err := b.downloadObject(ctx, j, obj.bucket, obj.key, target, meter); err != nil {
			return err
		}
		meter.FileDone()
		if req.Kind == backend.KindMove {
			if _, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
				Bucket: aws.String(obj.bucket),
				Key:    aws.String(obj.key),
			}); err != nil {
				return fmt.Errorf("remove source s3://%s/%s: %w", obj.bucket, obj.key, err)
			}
		}
	}
	return nil
}

func (b *Backend) downloadObject(ctx context.Context, j *job, bucket, key, target string, meter *backend.Meter) error {
	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}

	body := &meteredReader{
		ctx:   ctx,
		r:     ratelimit.NewThrottledReader(ctx, out.Body, b.limiter),
		gate:  j.gate,
		meter: meter,
	}
	if _, err := io.CopyBuffer(dst, body, make([]byte, constants.CopyChunkSize)); err != nil {
		dst.Close()
		return fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	return dst.Close()
}

// meteredReader applies the pause gate before each read and charges the
// meter for bytes delivered. Throttling is handled by the wrapped reader.
type meteredReader struct {
	ctx   context.Context
	r     io.Reader
	gate  *backend.Gate
	meter *backend.Meter
}

func (m *meteredReader) Read(p []byte) (int, error) {
	if err := m.gate.Wait(m.ctx); err != nil {
		return 0, err
	}
	n, err := m.r.Read(p)
	if n > 0 {
		m.meter.AddBytes(int64(n))
	}
	return n, err
}

var _ backend.Backend = (*Backend)(nil)
