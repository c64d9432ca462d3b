// Package apierrors defines the error taxonomy for the edit pipeline and
// its HTTP surface (see spec §7). Every stage fails fast with one of these
// types instead of attempting local recovery; the HTTP layer maps a
// taxonomy member to a status code and a stable wire tag via errors.As.
package apierrors

import "fmt"

// Stage names the pipeline point of failure, echoed on every error response.
type Stage string

const (
	StageParse              Stage = "parse"
	StageReadBase           Stage = "read_base"
	StageParseMask          Stage = "parse_mask"
	StageMaskToBBox         Stage = "mask_to_bbox"
	StageAlignMaskToImage   Stage = "align_mask_to_image"
	StageMakePatch          Stage = "make_patch"
	StageOpenRouter         Stage = "openrouter"
	StageCompositePrecheck  Stage = "composite_precheck"
	StageComposite          Stage = "composite"
	StageSaveOrReturn       Stage = "save_or_return"
)

// ValidationError signals bad client input; surfaced as 4xx.
type ValidationError struct {
	Tag   string
	Stage Stage
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error [%s] at stage %s: %v", e.Tag, e.Stage, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status for this error.
func (e *ValidationError) StatusCode() int { return 400 }

// NotFoundError signals a missing base image; 404.
type NotFoundError struct {
	Tag   string
	Stage Stage
	Err   error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found [%s] at stage %s: %v", e.Tag, e.Stage, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }
func (e *NotFoundError) StatusCode() int { return 404 }

// MaskError signals an unusable mask; 400.
type MaskError struct {
	Tag   string
	Stage Stage
	Err   error
}

func (e *MaskError) Error() string {
	return fmt.Sprintf("mask error [%s] at stage %s: %v", e.Tag, e.Stage, e.Err)
}

func (e *MaskError) Unwrap() error   { return e.Err }
func (e *MaskError) StatusCode() int { return 400 }

// ImageError signals an unreadable base image; 400.
type ImageError struct {
	Tag   string
	Stage Stage
	Err   error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("image error [%s] at stage %s: %v", e.Tag, e.Stage, e.Err)
}

func (e *ImageError) Unwrap() error   { return e.Err }
func (e *ImageError) StatusCode() int { return 400 }

// ModelError signals a failure of the external generative model
// collaborator. HTTPStatus mirrors the upstream status where reasonable;
// authentication failures normalize to 401 regardless of the upstream code.
type ModelError struct {
	Tag        string
	Stage      Stage
	HTTPStatus int
	Err        error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model error [%s] at stage %s (http %d): %v", e.Tag, e.Stage, e.HTTPStatus, e.Err)
}

func (e *ModelError) Unwrap() error   { return e.Err }
func (e *ModelError) StatusCode() int { return e.HTTPStatus }

// CoreInvariantError signals a pipeline bug (an invariant the code itself is
// supposed to guarantee was violated), never a user mistake; 500.
type CoreInvariantError struct {
	Tag   string
	Stage Stage
	Err   error
}

func (e *CoreInvariantError) Error() string {
	return fmt.Sprintf("core invariant violated [%s] at stage %s: %v", e.Tag, e.Stage, e.Err)
}

func (e *CoreInvariantError) Unwrap() error   { return e.Err }
func (e *CoreInvariantError) StatusCode() int { return 500 }

// Tagged is implemented by every taxonomy member so the HTTP layer can
// render {error, stage} without a type switch per call site.
type Tagged interface {
	error
	StatusCode() int
}

// Well-known tags referenced directly by spec §7 and §8.
const (
	TagPromptRequired        = "prompt_required"
	TagBadFileName           = "bad_file_name"
	TagBadColor              = "bad_color"
	TagInvalidPayload        = "invalid_payload"
	TagFileNotFound          = "file_not_found"
	TagMalformedDataURL      = "malformed_data_url"
	TagMaskMetaFailed        = "mask_meta_failed"
	TagEmptyMask             = "empty_mask"
	TagImageMetaFailed       = "image_meta_failed"
	TagNoImageInResponse     = "no_image_in_response"
	TagModelTimeout          = "ModelTimeout"
	TagInvalidOpenRouterKey  = "invalid_openrouter_api_key"
	TagAlphaCropSizeMismatch = "alpha_crop_size_mismatch"
	TagAlphaSizeMismatch     = "alpha_size_mismatch"
)

// OpenRouterHTTPTag formats the pass-through tag for an unrecognized
// upstream HTTP status, e.g. "openrouter_http_503".
func OpenRouterHTTPTag(status int) string {
	return fmt.Sprintf("openrouter_http_%d", status)
}
