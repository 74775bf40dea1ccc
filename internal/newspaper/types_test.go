package newspaper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTaskValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "absolute", url: "http://paper.example.com/a.pdf"},
		{name: "empty", url: " ", wantErr: true},
		{name: "relative", url: "/rmrb/a.pdf", wantErr: true},
		{name: "no host", url: "file:///tmp/a.pdf", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Task{Title: "t", URL: tt.url}.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusCancelled.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.False(t, StatusIdle.Terminal())
	require.False(t, StatusDownloading.Terminal())
}

func TestErrorsUnwrap(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	var discErr error = &DiscoveryError{Source: "people", URL: "http://x", Err: base}
	require.ErrorIs(t, discErr, base)
	require.Equal(t, "discover people (http://x): boom", discErr.Error())

	var fetchErr error = &FetchError{Title: "p1", StatusCode: 404, Err: base}
	require.ErrorIs(t, fetchErr, base)
	require.Contains(t, fetchErr.Error(), "status 404")

	var sessErr error = &SessionError{Op: "create dir", Err: base}
	require.ErrorIs(t, sessErr, base)
	var target *SessionError
	require.True(t, errors.As(sessErr, &target))
}
