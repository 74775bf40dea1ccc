package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	bytes.Buffer
	path        string
	contentType string
	closeErr    error
	closed      bool
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return w.closeErr
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	var got *recordingWriter
	store := newWithWriter("papers-bucket", func(_ context.Context, path, contentType string) io.WriteCloser {
		got = &recordingWriter{path: path, contentType: contentType}
		return got
	})

	uri, err := store.PutObject(context.Background(), "/papers/2025-01-02/legal/01版.pdf", "application/pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	require.Equal(t, "gs://papers-bucket/papers/2025-01-02/legal/01版.pdf", uri)
	require.Equal(t, "papers/2025-01-02/legal/01版.pdf", got.path)
	require.Equal(t, "application/pdf", got.contentType)
	require.Equal(t, "%PDF", got.String())
	require.True(t, got.closed)
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	store := newWithWriter("b", func(context.Context, string, string) io.WriteCloser { return w })

	_, err := store.PutObject(context.Background(), "", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "required")

	_, err = store.PutObject(context.Background(), "a.pdf", "", failingReader{})
	require.ErrorContains(t, err, "disk gone")
	require.True(t, w.closed)

	w.closeErr = errors.New("precondition failed")
	_, err = store.PutObject(context.Background(), "a.pdf", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "precondition failed")
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	require.NoError(t, newWithWriter("b", nil).Close())
}
