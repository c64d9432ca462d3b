package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-imaging/maskedit/internal/apierrors"
)

func TestNew_CreatesBothDirectories(t *testing.T) {
	root := t.TempDir()
	_, err := New(root)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "generated"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "edits"))
	require.NoError(t, err)
}

func TestSaveTo_ThenReadByName(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	saved, err := s.SaveTo(DestEdits, []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	assert.Contains(t, saved.Filename, ".png")

	data, mime, origin, err := s.ReadByName(saved.Filename)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, "edits", origin)
}

func TestReadByName_RejectsBadFilename(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, _, _, err = s.ReadByName("../../etc/passwd")
	require.Error(t, err)
	var validationErr *apierrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, apierrors.TagBadFileName, validationErr.Tag)
}

func TestReadByName_NotFound(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, _, _, err = s.ReadByName("deadbeef-0000-0000-0000-000000000000.png")
	require.Error(t, err)
	var notFoundErr *apierrors.NotFoundError
	require.ErrorAs(t, err, &notFoundErr)
}

func TestSaveTo_RejectsUnsupportedMime(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.SaveTo(DestGenerated, []byte("x"), "application/pdf")
	require.Error(t, err)
	var validationErr *apierrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
}
