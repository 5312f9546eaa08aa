package indexer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/hashicorp-forge/pushapi/pkg/batcher"
	"github.com/hashicorp-forge/pushapi/pkg/payload"
	"github.com/hashicorp-forge/pushapi/pkg/uploader"
)

// closeTimeout bounds the stream close issued after the run context is done.
const closeTimeout = time.Minute

// Summary describes the outcome of a run.
type Summary struct {
	RunID  string
	Target string
	Folder bool
	Stream bool
	DryRun bool

	// Files is the number of files whose documents were sent.
	Files         int
	Documents     int
	Batches       int
	FailedBatches int

	// Dropped lists files that were skipped: oversize, unreadable or not
	// valid JSON.
	Dropped []*batcher.FileError

	// Deleted reports whether a delete of old documents was sent.
	Deleted bool

	Duration time.Duration
}

// pushFolder pushes every *.json file of dir through a batcher, inside one
// REBUILD/IDLE bracket.
func (o *Orchestrator) pushFolder(ctx context.Context, logger hclog.Logger, dir string, sum *Summary) error {
	files, err := ListJSONFiles(o.fs, dir)
	if err != nil {
		return err
	}
	logger.Info("loading folder", "path", dir, "files", len(files))

	var up uploader.Uploader
	if !o.dryRun {
		up = uploader.NewBatchUploader(o.api, logger)
	}

	opts := []batcher.Option{
		batcher.WithFs(o.fs),
		batcher.WithMaxSize(o.maxBatchSize),
		batcher.WithLogger(logger),
	}
	if o.dryRun {
		opts = append(opts, batcher.WithDryRun(o.artifactDir))
	}
	b, err := batcher.New(up, opts...)
	if err != nil {
		return err
	}

	err = o.bracket(ctx, logger, func(ctx context.Context) error {
		var result *multierror.Error

		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return multierror.Append(result, err).ErrorOrNil()
			}
			if err := b.AddFile(ctx, f); err != nil {
				logger.Error("batch failed", "error", err)
				result = multierror.Append(result, err)
			}
		}

		if err := b.Flush(ctx); err != nil {
			logger.Error("batch failed", "error", err)
			result = multierror.Append(result, err)
		}

		return result.ErrorOrNil()
	})

	stats := b.Stats()
	sum.Files = stats.Files
	sum.Documents = stats.Documents
	sum.Batches = stats.Batches
	sum.FailedBatches = stats.FailedBatches
	sum.Dropped = stats.Dropped

	return err
}

// pushFile pushes a single JSON file as one envelope. The file is not size
// bounded by the batcher; the upload limit of the remote storage applies.
func (o *Orchestrator) pushFile(ctx context.Context, logger hclog.Logger, path string, sum *Summary) error {
	logger.Info("loading file", "path", path)

	data, err := afero.ReadFile(o.fs, path)
	if err != nil {
		sum.Dropped = append(sum.Dropped, &batcher.FileError{Path: path, Err: err})
		return fmt.Errorf("couldn't read file %q: %w", path, err)
	}

	env, err := payload.Decode(data)
	if err != nil {
		fe := &batcher.FileError{Path: path, Err: fmt.Errorf("%w: %v", batcher.ErrParse, err)}
		sum.Dropped = append(sum.Dropped, fe)
		return fmt.Errorf("invalid payload: %w", fe)
	}
	if err := env.Validate(logger); err != nil {
		sum.FailedBatches++
		return fmt.Errorf("invalid payload in %q: %w", path, err)
	}

	if o.dryRun {
		if err := o.writeArtifact(env); err != nil {
			sum.FailedBatches++
			return err
		}
		o.recordSent(sum, env)
		return nil
	}

	err = o.bracket(ctx, logger, func(ctx context.Context) error {
		if o.stream {
			return o.pushStream(ctx, logger, env)
		}
		return uploader.NewBatchUploader(o.api, logger).Push(ctx, env)
	})
	if err != nil {
		sum.FailedBatches++
		return err
	}

	o.recordSent(sum, env)
	return nil
}

// pushStream sends env through one stream session. The session is closed
// even if the push fails; a close failure is only logged.
func (o *Orchestrator) pushStream(ctx context.Context, logger hclog.Logger, env *payload.Envelope) error {
	su := uploader.NewStreamUploader(o.api, logger)
	if err := su.Open(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		_ = su.Close(closeCtx)
	}()

	return su.Push(ctx, env)
}

func (o *Orchestrator) writeArtifact(env *payload.Envelope) error {
	var buf bytes.Buffer
	if _, err := env.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	path := filepath.Join(o.artifactDir, batcher.ArtifactName(1))
	if err := afero.WriteFile(o.fs, path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write buffer file: %w", err)
	}
	o.logger.Info("created buffer file (not pushing)", "path", path)
	return nil
}

func (o *Orchestrator) recordSent(sum *Summary, env *payload.Envelope) {
	sum.Files = 1
	sum.Batches = 1
	sum.Documents = env.Len()
}

// ListJSONFiles returns the files directly inside dir whose names end in
// ".json", sorted by name. Hidden files are skipped so the config file is
// never pushed.
func ListJSONFiles(fs afero.Fs, dir string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list folder %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	return files, nil
}

func appendErr(result, err error) error {
	if err == nil {
		return result
	}
	if result == nil {
		return err
	}
	return multierror.Append(result, err)
}
