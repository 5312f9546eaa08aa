package batcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/pushapi/pkg/payload"
)

type recordingUploader struct {
	pushed [][]string
	err    error
	cancel context.CancelFunc
}

func (r *recordingUploader) Push(ctx context.Context, env *payload.Envelope) error {
	if r.cancel != nil {
		r.cancel()
		return ctx.Err()
	}
	if r.err != nil {
		return r.err
	}
	docs := make([]string, env.Len())
	for i, d := range env.AddOrUpdate {
		docs[i] = string(d)
	}
	r.pushed = append(r.pushed, docs)
	return nil
}

// writeSized writes content padded with trailing spaces to exactly size bytes.
func writeSized(t *testing.T, fs afero.Fs, path, content string, size int) {
	t.Helper()
	require.LessOrEqual(t, len(content), size)
	require.NoError(t, afero.WriteFile(fs, path, []byte(content+strings.Repeat(" ", size-len(content))), 0644))
}

func doc(id string) string {
	return fmt.Sprintf(`{"DocumentId":%q}`, id)
}

func TestBatcher_SplitsOnOverflow(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeSized(t, fs, "/in/1.json", "["+doc("1a")+","+doc("1b")+"]", 100)
	writeSized(t, fs, "/in/2.json", doc("2"), 100)
	writeSized(t, fs, "/in/3.json", "["+doc("3")+"]", 100)

	up := &recordingUploader{}
	b, err := New(up, WithFs(fs), WithMaxSize(250))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.AddFile(ctx, "/in/1.json"))
	require.NoError(t, b.AddFile(ctx, "/in/2.json"))
	assert.Empty(t, up.pushed)
	assert.Equal(t, int64(200), b.Size())

	require.NoError(t, b.AddFile(ctx, "/in/3.json"))
	require.Len(t, up.pushed, 1)
	assert.Equal(t, int64(100), b.Size())
	assert.Equal(t, 2, b.Batch())

	require.NoError(t, b.Flush(ctx))
	require.Len(t, up.pushed, 2)

	assert.Equal(t, []string{doc("1a"), doc("1b"), doc("2")}, up.pushed[0])
	assert.Equal(t, []string{doc("3")}, up.pushed[1])

	stats := b.Stats()
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 4, stats.Documents)
	assert.Equal(t, 2, stats.Batches)
	assert.Empty(t, stats.Dropped)
}

func TestBatcher_BatchesStayUnderCeilingAndKeepOrder(t *testing.T) {
	sizes := []int{40, 90, 30, 100, 60, 60, 30, 100, 25}
	fs := afero.NewMemMapFs()

	var want []string
	for i, size := range sizes {
		id := fmt.Sprintf("doc-%d", i)
		content := doc(id)
		want = append(want, content)
		writeSized(t, fs, fmt.Sprintf("/in/%02d.json", i), content, size)
	}

	up := &recordingUploader{}
	b, err := New(up, WithFs(fs), WithMaxSize(100))
	require.NoError(t, err)

	ctx := context.Background()
	var batchSizes []int64
	for i := range sizes {
		before := b.Size()
		batch := b.Batch()
		require.NoError(t, b.AddFile(ctx, fmt.Sprintf("/in/%02d.json", i)))
		if b.Batch() != batch {
			batchSizes = append(batchSizes, before)
		}
	}
	batchSizes = append(batchSizes, b.Size())
	require.NoError(t, b.Flush(ctx))

	for _, s := range batchSizes {
		assert.LessOrEqual(t, s, int64(100))
	}

	var got []string
	for _, batch := range up.pushed {
		got = append(got, batch...)
	}
	assert.Equal(t, want, got)
}

func TestBatcher_OversizeFileIsSkipped(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeSized(t, fs, "/in/a.json", doc("a"), 50)
	writeSized(t, fs, "/in/huge.json", doc("huge"), 300)
	writeSized(t, fs, "/in/b.json", doc("b"), 50)

	up := &recordingUploader{}
	b, err := New(up, WithFs(fs), WithMaxSize(250))
	require.NoError(t, err)
	ctx := context.Background()

	for _, p := range []string{"/in/a.json", "/in/huge.json", "/in/b.json"} {
		require.NoError(t, b.AddFile(ctx, p))
	}
	require.NoError(t, b.Flush(ctx))

	require.Len(t, up.pushed, 1)
	assert.Equal(t, []string{doc("a"), doc("b")}, up.pushed[0])

	dropped := b.Stats().Dropped
	require.Len(t, dropped, 1)
	assert.Equal(t, "/in/huge.json", dropped[0].Path)
	assert.ErrorIs(t, dropped[0], ErrOversizeFile)
}

func TestBatcher_ParseFailureIsDropped(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/bad.json", []byte(`[{"DocumentId":`), 0644))
	require.NoError(t, afero.WriteFile(fs, "/in/good.json", []byte(doc("g")), 0644))

	up := &recordingUploader{}
	b, err := New(up, WithFs(fs))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.AddFile(ctx, "/in/bad.json"))
	assert.Zero(t, b.Size())
	assert.Zero(t, b.Len())

	require.NoError(t, b.AddFile(ctx, "/in/good.json"))
	require.NoError(t, b.AddFile(ctx, "/in/missing.json"))
	require.NoError(t, b.Flush(ctx))

	require.Len(t, up.pushed, 1)
	assert.Equal(t, []string{doc("g")}, up.pushed[0])

	dropped := b.Stats().Dropped
	require.Len(t, dropped, 2)
	assert.ErrorIs(t, dropped[0], ErrParse)
	assert.Equal(t, "/in/missing.json", dropped[1].Path)
}

func TestBatcher_EnvelopeFileContributesItsDocuments(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/env.json",
		[]byte(`{"addOrUpdate":[`+doc("x")+`,`+doc("y")+`]}`), 0644))

	up := &recordingUploader{}
	b, err := New(up, WithFs(fs))
	require.NoError(t, err)

	require.NoError(t, b.AddFile(context.Background(), "/in/env.json"))
	require.NoError(t, b.Flush(context.Background()))

	require.Len(t, up.pushed, 1)
	assert.Equal(t, []string{doc("x"), doc("y")}, up.pushed[0])
}

func TestBatcher_EnvelopeFileWarnsAboutIgnoredKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/env.json",
		[]byte(`{"delete":[{"documentId":"old"}],"AddOrUpdate":[`+doc("x")+`]}`), 0644))

	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Debug})

	up := &recordingUploader{}
	b, err := New(up, WithFs(fs), WithLogger(logger))
	require.NoError(t, err)

	require.NoError(t, b.AddFile(context.Background(), "/in/env.json"))
	require.NoError(t, b.Flush(context.Background()))

	require.Len(t, up.pushed, 1)
	assert.Equal(t, []string{doc("x")}, up.pushed[0])
	assert.Contains(t, buf.String(), "ignoring top-level keys")
	assert.Contains(t, buf.String(), "delete")
	assert.Contains(t, buf.String(), "/in/env.json")
}

func TestBatcher_FlushIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/a.json", []byte(doc("a")), 0644))

	up := &recordingUploader{}
	b, err := New(up, WithFs(fs))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Flush(ctx))
	assert.Empty(t, up.pushed)

	require.NoError(t, b.AddFile(ctx, "/in/a.json"))
	require.NoError(t, b.Flush(ctx))
	require.NoError(t, b.Flush(ctx))

	assert.Len(t, up.pushed, 1)
	assert.Equal(t, 2, b.Batch())
}

func TestBatcher_ValidationFailureDiscardsBatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeSized(t, fs, "/in/1.json", `[`+doc("a")+`,{"title":"no id"}]`, 100)
	writeSized(t, fs, "/in/2.json", doc("b"), 100)

	up := &recordingUploader{}
	b, err := New(up, WithFs(fs), WithMaxSize(150))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.AddFile(ctx, "/in/1.json"))

	err = b.AddFile(ctx, "/in/2.json")
	require.ErrorIs(t, err, payload.ErrMissingDocumentID)
	assert.Empty(t, up.pushed)

	// The file that triggered the failed flush lands in the next batch.
	require.NoError(t, b.Flush(ctx))
	require.Len(t, up.pushed, 1)
	assert.Equal(t, []string{doc("b")}, up.pushed[0])

	stats := b.Stats()
	assert.Equal(t, 1, stats.FailedBatches)
	assert.Equal(t, 1, stats.Batches)
}

func TestBatcher_UploadFailureMovesOn(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/a.json", []byte(doc("a")), 0644))

	boom := errors.New("boom")
	up := &recordingUploader{err: boom}
	b, err := New(up, WithFs(fs))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.AddFile(ctx, "/in/a.json"))
	require.ErrorIs(t, b.Flush(ctx), boom)

	assert.Zero(t, b.Len())
	assert.Equal(t, 2, b.Batch())
	assert.Equal(t, 1, b.Stats().FailedBatches)
}

func TestBatcher_CancelledUploadKeepsBuffer(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/a.json", []byte(doc("a")), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	up := &recordingUploader{cancel: cancel}
	b, err := New(up, WithFs(fs))
	require.NoError(t, err)

	require.NoError(t, b.AddFile(ctx, "/in/a.json"))
	require.ErrorIs(t, b.Flush(ctx), context.Canceled)

	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 1, b.Batch())
	assert.Zero(t, b.Stats().FailedBatches)
}

func TestBatcher_DryRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeSized(t, fs, "/in/1.json", doc("1"), 100)
	writeSized(t, fs, "/in/2.json", doc("2"), 100)
	require.NoError(t, fs.MkdirAll("/work", 0755))

	b, err := New(nil, WithFs(fs), WithMaxSize(150), WithDryRun("/work"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.AddFile(ctx, "/in/1.json"))
	require.NoError(t, b.AddFile(ctx, "/in/2.json"))
	require.NoError(t, b.Flush(ctx))

	artifacts, err := ListArtifacts(fs, "/work")
	require.NoError(t, err)
	assert.Equal(t, []string{"/work/.pushapi.buffer.1", "/work/.pushapi.buffer.2"}, artifacts)

	first, err := afero.ReadFile(fs, "/work/.pushapi.buffer.1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"AddOrUpdate":[{"DocumentId":"1"}]}`, string(first))

	removed, err := RemoveArtifacts(fs, "/work", nil)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	artifacts, err = ListArtifacts(fs, "/work")
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&recordingUploader{}, WithMaxSize(0))
	assert.Error(t, err)
}

func TestListArtifacts_IgnoresOtherFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/w", 0755))
	for _, name := range []string{".pushapi.buffer.10", ".pushapi.buffer.2", ".pushapi.buffer.x", "data.json", ".pushapi-config.json"} {
		require.NoError(t, afero.WriteFile(fs, "/w/"+name, []byte("{}"), 0644))
	}

	artifacts, err := ListArtifacts(fs, "/w")
	require.NoError(t, err)
	assert.Equal(t, []string{"/w/.pushapi.buffer.2", "/w/.pushapi.buffer.10"}, artifacts)
}
