package uploader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/pushapi/pkg/payload"
)

var (
	// ErrStreamNotOpen is returned by Push when no stream session is open.
	ErrStreamNotOpen = errors.New("stream is not open")

	// ErrStreamAlreadyOpen is returned by Open on an uploader that already
	// opened a session.
	ErrStreamAlreadyOpen = errors.New("stream is already open")
)

// StreamUploader implements the Stream API session protocol. A session is
// opened once, receives any number of chunk uploads through Push, and is
// closed once.
type StreamUploader struct {
	api    StreamAPI
	logger hclog.Logger

	mu        sync.Mutex
	streamID  string
	uploadURI string
	chunks    int
	closed    bool
}

// NewStreamUploader creates a new StreamUploader.
func NewStreamUploader(api StreamAPI, logger hclog.Logger) *StreamUploader {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &StreamUploader{
		api:    api,
		logger: logger.Named("stream-uploader"),
	}
}

// Open opens the stream session. The upload URI returned with the session is
// used by the first Push without requesting a chunk.
func (u *StreamUploader) Open(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.streamID != "" || u.closed {
		return ErrStreamAlreadyOpen
	}

	s, err := u.api.OpenStream(ctx)
	if err != nil {
		return err
	}

	u.streamID = s.StreamID
	u.uploadURI = s.UploadURI
	return nil
}

// StreamID returns the ID of the open session, or "" if none is open.
func (u *StreamUploader) StreamID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.streamID
}

// Push uploads env as one chunk of the open session.
func (u *StreamUploader) Push(ctx context.Context, env *payload.Envelope) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.streamID == "" || u.closed {
		return ErrStreamNotOpen
	}

	body, err := encode(env)
	if err != nil {
		return err
	}

	if u.uploadURI == "" {
		chunk, err := u.api.RequestStreamChunk(ctx, u.streamID)
		if err != nil {
			return err
		}
		u.uploadURI = chunk.UploadURI
	}

	if err := u.api.Upload(ctx, u.uploadURI, body); err != nil {
		return fmt.Errorf("failed to upload stream chunk: %w", err)
	}

	// An upload URI accepts a single chunk.
	u.uploadURI = ""
	u.chunks++

	u.logger.Info("stream chunk uploaded",
		"stream_id", u.streamID,
		"chunk", u.chunks,
		"documents", env.Len(),
		"size", humanize.Bytes(uint64(len(body))),
	)
	return nil
}

// Close closes the session. Only the first call reaches the remote service;
// later calls and calls on an uploader that never opened are no-ops. A close
// failure is logged and returned, but the session is considered closed
// regardless.
func (u *StreamUploader) Close(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.streamID == "" || u.closed {
		return nil
	}
	u.closed = true

	if err := u.api.CloseStream(ctx, u.streamID); err != nil {
		u.logger.Warn("failed to close stream", "stream_id", u.streamID, "error", err)
		return err
	}
	return nil
}
