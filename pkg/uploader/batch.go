package uploader

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/pushapi/pkg/payload"
)

// BatchUploader implements the file container protocol: every push requests
// a fresh container, uploads the envelope to it and commits it as a batch.
type BatchUploader struct {
	api    ContainerAPI
	logger hclog.Logger
}

// NewBatchUploader creates a new BatchUploader.
func NewBatchUploader(api ContainerAPI, logger hclog.Logger) *BatchUploader {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &BatchUploader{
		api:    api,
		logger: logger.Named("batch-uploader"),
	}
}

// Push uploads env through a new file container. A failure at any step stops
// the remaining steps; in particular a container whose upload failed is
// never committed.
func (u *BatchUploader) Push(ctx context.Context, env *payload.Envelope) error {
	body, err := encode(env)
	if err != nil {
		return err
	}

	fc, err := u.api.CreateFileContainer(ctx)
	if err != nil {
		return err
	}

	if err := u.api.Upload(ctx, fc.UploadURI, body); err != nil {
		return fmt.Errorf("failed to upload to file container %s: %w", fc.FileID, err)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("file container %s not committed: %w", fc.FileID, err)
	}

	if err := u.api.PushDocumentBatch(ctx, fc.FileID); err != nil {
		return err
	}

	u.logger.Info("batch pushed",
		"file_id", fc.FileID,
		"documents", env.Len(),
		"size", humanize.Bytes(uint64(len(body))),
	)
	return nil
}
