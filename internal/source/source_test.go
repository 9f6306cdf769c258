package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOpener struct {
	objects map[string]string
	opened  []string
	closed  bool
}

func (f *fakeOpener) Open(_ context.Context, bucket, object string) (io.ReadCloser, error) {
	key := bucket + "/" + object
	f.opened = append(f.opened, key)
	data, ok := f.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func (f *fakeOpener) Close() error {
	f.closed = true
	return nil
}

func newResolver(opener Opener, openerErr error) (*Resolver, *int) {
	calls := 0
	logger, _ := test.NewNullLogger()
	return NewResolver(func(context.Context) (Opener, error) {
		calls++
		return opener, openerErr
	}, logrus.NewEntry(logger)), &calls
}

func TestParseGCS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in             string
		bucket, object string
		ok             bool
	}{
		{"gs://reports/2024/NonFS.xlsx", "reports", "2024/NonFS.xlsx", true},
		{"gs://reports", "reports", "", true},
		{"gs:///x.xlsx", "", "", false},
		{"NonFS_NonCompliant_Repos.xlsx", "", "", false},
		{"/data/gs://x", "", "", false},
	}
	for _, tt := range tests {
		bucket, object, ok := ParseGCS(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.bucket, bucket, tt.in)
		assert.Equal(t, tt.object, object, tt.in)
	}
}

func TestFetch_LocalPath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "NonFS_NonCompliant_Repos.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	r, calls := newResolver(nil, errors.New("must not be created"))
	got, cleanup, err := r.Fetch(context.Background(), path)
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, path, got)
	assert.Zero(t, *calls)
}

func TestFetch_LocalMissing(t *testing.T) {
	t.Parallel()

	r, _ := newResolver(nil, nil)
	_, cleanup, err := r.Fetch(context.Background(), filepath.Join(t.TempDir(), "missing.xlsx"))
	cleanup()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetch_GCSKeepsBasename(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{objects: map[string]string{"reports/weekly/NonFS_NonCompliant_Repos.xlsx": "sheet-bytes"}}
	r, calls := newResolver(opener, nil)

	got, cleanup, err := r.Fetch(context.Background(), "gs://reports/weekly/NonFS_NonCompliant_Repos.xlsx")
	require.NoError(t, err)

	assert.Equal(t, "NonFS_NonCompliant_Repos.xlsx", filepath.Base(got))
	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "sheet-bytes", string(data))

	cleanup()
	_, err = os.Stat(got)
	assert.ErrorIs(t, err, os.ErrNotExist)

	// The opener is created once and reused.
	_, cleanup2, err := r.Fetch(context.Background(), "gs://reports/missing.xlsx")
	cleanup2()
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, *calls)

	require.NoError(t, r.Close())
	assert.True(t, opener.closed)
}

func TestFetch_GCSErrors(t *testing.T) {
	t.Parallel()

	r, _ := newResolver(nil, errors.New("no credentials"))
	_, cleanup, err := r.Fetch(context.Background(), "gs://reports/x.xlsx")
	cleanup()
	assert.ErrorContains(t, err, "no credentials")

	r, calls := newResolver(&fakeOpener{}, nil)
	_, cleanup, err = r.Fetch(context.Background(), "gs://reports/folder/")
	cleanup()
	assert.ErrorContains(t, err, "invalid object")
	assert.Zero(t, *calls)
}
