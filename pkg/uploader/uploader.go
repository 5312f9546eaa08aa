// Package uploader delivers payload envelopes to a push source using either
// the file container protocol or the Stream API.
package uploader

import (
	"bytes"
	"context"
	"fmt"

	"github.com/hashicorp-forge/pushapi/pkg/payload"
	"github.com/hashicorp-forge/pushapi/pkg/pushapi"
)

// Uploader pushes one envelope to the remote source.
type Uploader interface {
	Push(ctx context.Context, env *payload.Envelope) error
}

// BlobUploader transfers a body to a pre-signed upload URI.
type BlobUploader interface {
	Upload(ctx context.Context, uploadURI string, body []byte) error
}

// ContainerAPI is the subset of the Push API used by the file container
// protocol.
type ContainerAPI interface {
	BlobUploader
	CreateFileContainer(ctx context.Context) (*pushapi.FileContainer, error)
	PushDocumentBatch(ctx context.Context, fileID string) error
}

// StreamAPI is the subset of the Stream API used by the session protocol.
type StreamAPI interface {
	BlobUploader
	OpenStream(ctx context.Context) (*pushapi.Stream, error)
	RequestStreamChunk(ctx context.Context, streamID string) (*pushapi.StreamChunk, error)
	CloseStream(ctx context.Context, streamID string) error
}

// encode serializes env into a single buffer. Pre-signed PUTs need a known
// Content-Length, so the body is not streamed.
func encode(env *payload.Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := env.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}
