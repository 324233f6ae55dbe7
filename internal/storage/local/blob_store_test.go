package local

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCreatesMissingDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "archive", "renders")
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)
	require.Equal(t, dir, store.baseDir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "writability probe must be cleaned up")
}

func TestNewRejectsUnusableDirectories(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseDir: "  "})
	require.ErrorContains(t, err, "base directory is required")

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = New(Config{BaseDir: file})
	require.ErrorContains(t, err, "not a directory")

	if os.Geteuid() == 0 {
		return
	}
	readOnly := t.TempDir()
	require.NoError(t, os.Chmod(readOnly, 0o500)) // #nosec G302 -- test fixture
	t.Cleanup(func() { _ = os.Chmod(readOnly, 0o700) })
	_, err = New(Config{BaseDir: readOnly})
	require.ErrorContains(t, err, "not writable")
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	cases := []struct {
		name    string
		path    string
		body    string
		wantErr string
	}{
		{name: "dated artifact", path: "renders/usercard/2024/03/09/abc.UserCard.png", body: "\x89PNG user"},
		{name: "flat", path: "def.OGImage.png", body: "\x89PNG og"},
		{name: "empty path", path: "", wantErr: "path is required"},
		{name: "escapes base", path: "../../etc/passwd", wantErr: "path traversal"},
		{name: "base itself", path: ".", wantErr: "path traversal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uri, err := store.PutObject(context.Background(), tc.path, "image/png", strings.NewReader(tc.body))
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			full := filepath.Join(base, tc.path)
			require.Equal(t, "file://"+full, uri)

			got, err := os.ReadFile(full) // #nosec G304 -- path below the temp dir
			require.NoError(t, err)
			require.Equal(t, tc.body, string(got))
		})
	}
}

func TestPutObjectReplacesExistingFile(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	for _, body := range []string{"first", "second"} {
		_, err := store.PutObject(context.Background(), "same.png", "image/png", bytes.NewBufferString(body))
		require.NoError(t, err)
	}
	got, err := os.ReadFile(filepath.Join(base, "same.png")) // #nosec G304 -- path below the temp dir
	require.NoError(t, err)
	require.Equal(t, "second", string(got))

	leftovers, err := filepath.Glob(filepath.Join(base, ".upload-*"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}
