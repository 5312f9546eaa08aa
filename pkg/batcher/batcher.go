// Package batcher accumulates documents read from JSON files into batches
// bounded by the summed size of the files they came from, and hands each
// full batch to an uploader.
package batcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"

	"github.com/hashicorp-forge/pushapi/pkg/payload"
	"github.com/hashicorp-forge/pushapi/pkg/uploader"
)

// MaxBufferSize is the default ceiling on the summed size of the files in one
// batch. It stays below the 256 MiB upload limit to leave room for the
// envelope and separators.
const MaxBufferSize = 250 * 1024 * 1024

var (
	// ErrOversizeFile is recorded for a file larger than the batch ceiling.
	ErrOversizeFile = errors.New("file is bigger than the maximum batch size")

	// ErrParse is recorded for a file that does not hold valid JSON.
	ErrParse = errors.New("invalid JSON")
)

// FileError is a recoverable failure tied to one input file. The file is
// dropped and the run continues.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Stats summarizes what a Batcher has done so far.
type Stats struct {
	// Files is the number of files whose documents were buffered.
	Files int

	// Documents is the number of documents in successfully flushed batches.
	Documents int

	// Batches is the number of successfully flushed batches.
	Batches int

	// FailedBatches is the number of batches that were discarded because
	// validation or the upload failed.
	FailedBatches int

	// Dropped lists files that were skipped.
	Dropped []*FileError
}

// Batcher accumulates documents and flushes them through an Uploader. It is
// not safe for concurrent use; files are processed one at a time and each
// flush completes before the next file is read.
type Batcher struct {
	uploader    uploader.Uploader
	fs          afero.Fs
	maxSize     int64
	dryRun      bool
	artifactDir string
	logger      hclog.Logger

	docs  []payload.Document
	size  int64
	batch int
	stats Stats
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithFs sets the filesystem files are read from and artifacts written to.
func WithFs(fs afero.Fs) Option {
	return func(b *Batcher) {
		b.fs = fs
	}
}

// WithMaxSize overrides MaxBufferSize.
func WithMaxSize(size int64) Option {
	return func(b *Batcher) {
		b.maxSize = size
	}
}

// WithDryRun makes flushes write each batch to an artifact in dir instead of
// uploading it.
func WithDryRun(dir string) Option {
	return func(b *Batcher) {
		b.dryRun = true
		b.artifactDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(logger hclog.Logger) Option {
	return func(b *Batcher) {
		b.logger = logger
	}
}

// New creates a new Batcher. up may be nil in dry-run mode.
func New(up uploader.Uploader, opts ...Option) (*Batcher, error) {
	b := &Batcher{
		uploader: up,
		maxSize:  MaxBufferSize,
		batch:    1,
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.fs == nil {
		b.fs = afero.NewOsFs()
	}
	if b.logger == nil {
		b.logger = hclog.NewNullLogger()
	}
	b.logger = b.logger.Named("batcher")

	if b.maxSize <= 0 {
		return nil, fmt.Errorf("max batch size must be positive, got: %d", b.maxSize)
	}
	if !b.dryRun && b.uploader == nil {
		return nil, fmt.Errorf("uploader is required unless running in dry-run mode")
	}

	return b, nil
}

// AddFile buffers the documents of the JSON file at path. If the file does
// not fit in the current batch, the batch is flushed first.
//
// Files that cannot be stat'ed, read or parsed, and files bigger than the
// ceiling, are dropped and recorded in Stats; they do not produce an error.
// The returned error is the failure of a flush triggered by this file. In
// that case the file is still buffered into the next batch, unless ctx was
// cancelled.
func (b *Batcher) AddFile(ctx context.Context, path string) error {
	var flushErr error

	for {
		info, err := b.fs.Stat(path)
		if err != nil {
			b.drop(path, err)
			return flushErr
		}
		fileSize := info.Size()

		if fileSize > b.maxSize {
			b.logger.Warn("file is bigger than maximum size, you need to break it up; skipping",
				"path", path,
				"size", humanize.Bytes(uint64(fileSize)),
				"max", humanize.Bytes(uint64(b.maxSize)),
			)
			b.drop(path, ErrOversizeFile)
			return flushErr
		}

		if b.size+fileSize > b.maxSize {
			b.logger.Debug("batch is full", "batch", b.batch, "size", humanize.Bytes(uint64(b.size)))
			if err := b.Flush(ctx); err != nil {
				if ctx.Err() != nil {
					return err
				}
				flushErr = err
			}
			// The buffer is now empty, so the file fits on the next pass.
			continue
		}

		b.load(path, fileSize)
		return flushErr
	}
}

func (b *Batcher) load(path string, fileSize int64) {
	b.logger.Debug("loading file", "path", path)

	data, err := afero.ReadFile(b.fs, path)
	if err != nil {
		b.drop(path, err)
		return
	}

	env, err := payload.Decode(data)
	if err != nil {
		b.drop(path, fmt.Errorf("%w: %v", ErrParse, err))
		return
	}

	if keys := env.ExtraKeys(); len(keys) > 0 {
		b.logger.Warn("ignoring top-level keys", "path", path, "keys", keys)
	}

	b.docs = append(b.docs, env.AddOrUpdate...)
	b.size += fileSize
	b.stats.Files++
}

func (b *Batcher) drop(path string, err error) {
	fe := &FileError{Path: path, Err: err}
	if !errors.Is(err, ErrOversizeFile) {
		b.logger.Warn("dropping file", "path", path, "error", err)
	}
	b.stats.Dropped = append(b.stats.Dropped, fe)
}

// Flush sends the buffered documents as one batch. It is a no-op when the
// buffer is empty, so it is safe to call at the end of a run.
//
// A batch that fails validation or upload is discarded and the error is
// returned. If ctx is cancelled during the upload, the buffer is left intact.
func (b *Batcher) Flush(ctx context.Context) error {
	if b.size == 0 && len(b.docs) == 0 {
		return nil
	}
	if len(b.docs) == 0 {
		b.reset()
		return nil
	}

	name := ArtifactName(b.batch)
	env := payload.NewEnvelope(b.docs)
	logger := b.logger.With("batch", b.batch, "documents", env.Len())

	if err := env.Validate(logger); err != nil {
		b.stats.FailedBatches++
		b.reset()
		return fmt.Errorf("batch %s: %w", name, err)
	}

	if b.dryRun {
		path := filepath.Join(b.artifactDir, name)
		if err := b.writeArtifact(path, env); err != nil {
			b.stats.FailedBatches++
			b.reset()
			return fmt.Errorf("batch %s: %w", name, err)
		}
		logger.Info("created buffer file (not pushing)", "path", path)
		b.stats.Batches++
		b.stats.Documents += env.Len()
		b.reset()
		return nil
	}

	logger.Info("sending batch", "size", humanize.Bytes(uint64(b.size)))
	if err := b.uploader.Push(ctx, env); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("batch %s: %w", name, err)
		}
		b.stats.FailedBatches++
		b.reset()
		return fmt.Errorf("batch %s: %w", name, err)
	}

	logger.Info("upload done")
	b.stats.Batches++
	b.stats.Documents += env.Len()
	b.reset()
	return nil
}

func (b *Batcher) writeArtifact(path string, env *payload.Envelope) error {
	var buf bytes.Buffer
	if _, err := env.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}
	if err := afero.WriteFile(b.fs, path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write buffer file: %w", err)
	}
	return nil
}

// reset clears the buffer and moves on to the next batch number.
func (b *Batcher) reset() {
	b.docs = nil
	b.size = 0
	b.batch++
}

// Len returns the number of buffered documents.
func (b *Batcher) Len() int {
	return len(b.docs)
}

// Size returns the summed size of the files in the current batch.
func (b *Batcher) Size() int64 {
	return b.size
}

// Batch returns the sequence number of the batch being accumulated.
func (b *Batcher) Batch() int {
	return b.batch
}

// Stats returns a snapshot of the batcher's counters.
func (b *Batcher) Stats() Stats {
	s := b.stats
	s.Dropped = append([]*FileError(nil), b.stats.Dropped...)
	return s
}
