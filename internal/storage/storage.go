// Package storage implements the filesystem collaborator described in
// spec §6.2/§6.3: flat generated/ and edits/ directories holding
// UUID-named originals and composited outputs, with no sidecar metadata.
package storage

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"

	"github.com/kestrel-imaging/maskedit/internal/apierrors"
)

// Dest names one of the two persisted directories.
type Dest string

const (
	DestGenerated Dest = "generated"
	DestEdits     Dest = "edits"
)

// filenamePattern matches the required UUID.ext shape (spec §6.2).
var filenamePattern = regexp.MustCompile(`^[a-f0-9-]+\.(png|jpg|jpeg|webp)$`)

var extToMime = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

var mimeToExt = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
}

// SavedFile describes a persisted file, mirroring the save_to contract.
type SavedFile struct {
	Filename string
	URL      string
	Mime     string
}

// Store implements the read_by_name / save_to collaborator contract against
// the local filesystem.
type Store struct {
	root string
}

// New creates a Store rooted at root, ensuring both generated/ and edits/
// subdirectories exist.
func New(root string) (*Store, error) {
	for _, d := range []Dest{DestGenerated, DestEdits} {
		if err := os.MkdirAll(filepath.Join(root, string(d)), 0o755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", d, err)
		}
	}
	return &Store{root: root}, nil
}

// ReadByName reads a stored file by its UUID.ext filename, searching
// generated/ then edits/. It returns the raw bytes, a MIME type derived
// from the extension, and the directory it was found in.
func (s *Store) ReadByName(name string) ([]byte, string, string, error) {
	if !filenamePattern.MatchString(name) {
		return nil, "", "", &apierrors.ValidationError{
			Tag:   apierrors.TagBadFileName,
			Stage: apierrors.StageReadBase,
			Err:   fmt.Errorf("filename %q does not match the required pattern", name),
		}
	}

	for _, d := range []Dest{DestGenerated, DestEdits} {
		path := filepath.Join(s.root, string(d), name)
		data, err := os.ReadFile(path) //nolint:gosec // filename is validated against filenamePattern above
		if err == nil {
			return data, extToMime[filepath.Ext(name)], string(d), nil
		}
		if !os.IsNotExist(err) {
			return nil, "", "", fmt.Errorf("read %s: %w", path, err)
		}
	}

	return nil, "", "", &apierrors.NotFoundError{
		Tag:   apierrors.TagFileNotFound,
		Stage: apierrors.StageReadBase,
		Err:   fmt.Errorf("no such file: %s", name),
	}
}

// SaveTo persists data under dest with a fresh UUID filename derived from
// mime, returning the resulting filename, a synthetic URL and its MIME
// type.
func (s *Store) SaveTo(dest Dest, data []byte, mimeType string) (SavedFile, error) {
	ext, ok := mimeToExt[mimeType]
	if !ok {
		return SavedFile{}, &apierrors.ValidationError{
			Tag:   apierrors.TagInvalidPayload,
			Stage: apierrors.StageSaveOrReturn,
			Err:   fmt.Errorf("unsupported mime type: %s", mimeType),
		}
	}

	filename := uuid.NewString() + "." + ext
	path := filepath.Join(s.root, string(dest), filename)
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // output is a generated PNG, not user-controlled
		return SavedFile{}, fmt.Errorf("write %s: %w", path, err)
	}

	return SavedFile{
		Filename: filename,
		URL:      fmt.Sprintf("/files/%s/%s", dest, filename),
		Mime:     mime.TypeByExtension(filepath.Ext(filename)),
	}, nil
}
