// Package indexer runs a push of one file or a folder of JSON files to a
// push source. It picks the upload protocol, brackets the run with source
// status changes and reports what happened.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"

	"github.com/hashicorp-forge/pushapi/pkg/batcher"
	"github.com/hashicorp-forge/pushapi/pkg/status"
	"github.com/hashicorp-forge/pushapi/pkg/uploader"
)

// ErrProtocolMismatch is returned when a folder run is requested with the
// Stream API. A stream session covers a single target.
var ErrProtocolMismatch = errors.New("the Stream API can only push a single file, not a folder")

// API is the remote surface used by a run.
type API interface {
	uploader.ContainerAPI
	uploader.StreamAPI
	status.API
}

// Orchestrator runs pushes against one source.
type Orchestrator struct {
	api          API
	fs           afero.Fs
	logger       hclog.Logger
	now          func() time.Time
	stream       bool
	dryRun       bool
	artifactDir  string
	maxBatchSize int64
	deleteAfter  *time.Duration
}

// Option is a functional option for creating an Orchestrator.
type Option func(*Orchestrator)

// WithAPI sets the remote API client.
func WithAPI(api API) Option {
	return func(o *Orchestrator) {
		o.api = api
	}
}

// WithFs sets the filesystem input files are read from.
func WithFs(fs afero.Fs) Option {
	return func(o *Orchestrator) {
		o.fs = fs
	}
}

// WithLogger sets the logger.
func WithLogger(logger hclog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock sets the function used to read the current time.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithStream selects the Stream API instead of file containers.
func WithStream(stream bool) Option {
	return func(o *Orchestrator) {
		o.stream = stream
	}
}

// WithDryRun enables or disables dry-run mode. In dry-run mode nothing is
// sent to the remote service and every batch is written to an artifact in
// dir instead.
func WithDryRun(dryRun bool, dir string) Option {
	return func(o *Orchestrator) {
		o.dryRun = dryRun
		o.artifactDir = dir
	}
}

// WithMaxBatchSize overrides batcher.MaxBufferSize.
func WithMaxBatchSize(size int64) Option {
	return func(o *Orchestrator) {
		o.maxBatchSize = size
	}
}

// WithDeleteOlderThan deletes documents older than age before pushing.
func WithDeleteOlderThan(age time.Duration) Option {
	return func(o *Orchestrator) {
		o.deleteAfter = &age
	}
}

// NewOrchestrator creates a new push orchestrator.
func NewOrchestrator(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		now:          time.Now,
		artifactDir:  ".",
		maxBatchSize: batcher.MaxBufferSize,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}
	if o.logger == nil {
		o.logger = hclog.NewNullLogger()
	}

	if o.api == nil && !o.dryRun {
		return nil, fmt.Errorf("API client is required unless running in dry-run mode")
	}

	return o, nil
}

// Run pushes target, which is either a JSON file or a folder whose *.json
// files are pushed in name order.
//
// The returned Summary is populated even when an error is returned. Batch
// failures in a folder run do not stop the run; they are collected into the
// returned error.
func (o *Orchestrator) Run(ctx context.Context, target string) (*Summary, error) {
	info, err := o.fs.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", target, err)
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%q is neither a file nor a folder", target)
	}
	if info.IsDir() && o.stream {
		return nil, ErrProtocolMismatch
	}

	runID := uuid.New().String()
	sum := &Summary{
		RunID:  runID,
		Target: target,
		Folder: info.IsDir(),
		Stream: o.stream,
		DryRun: o.dryRun,
	}
	logger := o.logger.Named("indexer").With("run_id", runID)
	start := o.now()

	logger.Info("starting push",
		"target", target,
		"folder", sum.Folder,
		"stream", o.stream,
		"dry_run", o.dryRun,
	)

	var result error
	if o.deleteAfter != nil {
		if err := o.deleteOlderThan(ctx, logger, sum); err != nil {
			result = appendErr(result, err)
		}
	}

	var runErr error
	if sum.Folder {
		runErr = o.pushFolder(ctx, logger, target, sum)
	} else {
		runErr = o.pushFile(ctx, logger, target, sum)
	}
	result = appendErr(result, runErr)

	sum.Duration = o.now().Sub(start)
	logger.Info("push completed",
		"files", sum.Files,
		"documents", sum.Documents,
		"batches", sum.Batches,
		"failed_batches", sum.FailedBatches,
		"dropped_files", len(sum.Dropped),
		"duration", sum.Duration,
	)

	return sum, result
}

func (o *Orchestrator) deleteOlderThan(ctx context.Context, logger hclog.Logger, sum *Summary) error {
	cutoff := o.now().Add(-*o.deleteAfter)
	if o.dryRun {
		logger.Info("dry run, not deleting old documents", "cutoff", cutoff)
		return nil
	}

	ctrl := status.New(o.api, status.WithClock(o.now), status.WithLogger(logger))
	deleted, err := ctrl.DeleteOlderThan(ctx, cutoff)
	sum.Deleted = deleted
	return err
}

// bracket runs fn between REBUILD and IDLE status changes. Dry runs skip the
// status changes.
func (o *Orchestrator) bracket(ctx context.Context, logger hclog.Logger, fn func(ctx context.Context) error) error {
	if o.dryRun {
		return fn(ctx)
	}
	ctrl := status.New(o.api, status.WithClock(o.now), status.WithLogger(logger))
	return ctrl.Bracket(ctx, fn)
}
