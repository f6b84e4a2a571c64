package ablage

import "errors"

// Upload and resolution failure classes. The HTTP layer maps these onto
// status codes; everything else surfaces as an internal error.
var (
	// ErrNoFilename means the multipart upload carried no usable file part.
	ErrNoFilename = errors.New("no filename")

	// ErrEmptyUpload means the upload body contained zero payload bytes.
	ErrEmptyUpload = errors.New("empty upload")

	// ErrTooLarge means the upload exceeded the configured size ceiling.
	ErrTooLarge = errors.New("file too large")

	// ErrUnsupportedMediaType means the content's magic bytes matched no
	// known type at all.
	ErrUnsupportedMediaType = errors.New("unsupported media type (unrecognized)")

	// ErrMediaTypeNotAllowed means the content was recognized but its type
	// is not on the image or archive allow-list.
	ErrMediaTypeNotAllowed = errors.New("media type not allowed")

	// ErrNotFound means an identifier resolved to no stored object.
	ErrNotFound = errors.New("not found")
)
