package models

import (
	"errors"
	"fmt"
)

// ErrMalformedSidecar indicates a product sidecar that could not be decoded.
type ErrMalformedSidecar struct {
	Path string
	Err  error
}

func (e ErrMalformedSidecar) Error() string {
	return fmt.Errorf("malformed_sidecar %s: %w", e.Path, e.Err).Error()
}

func (e ErrMalformedSidecar) Unwrap() error {
	return e.Err
}

// ErrUnrecognizedImageSource indicates an image reference the rewrite pass
// does not handle. It never aborts a build.
type ErrUnrecognizedImageSource struct {
	URL string
	Err error
}

func (e ErrUnrecognizedImageSource) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("unrecognized_image_source %q", e.URL)
	}
	return fmt.Errorf("unrecognized_image_source %q: %w", e.URL, e.Err).Error()
}

func (e ErrUnrecognizedImageSource) Unwrap() error {
	return e.Err
}

// ErrInvalidManifestShape indicates a source manifest without a product list.
type ErrInvalidManifestShape struct {
	Reason string
}

func (e ErrInvalidManifestShape) Error() string {
	return "invalid_manifest_shape: " + e.Reason
}

// ErrFileSystem wraps a read or write failure with the path involved.
type ErrFileSystem struct {
	Op   string
	Path string
	Err  error
}

func (e ErrFileSystem) Error() string {
	return fmt.Errorf("filesystem %s %s: %w", e.Op, e.Path, e.Err).Error()
}

func (e ErrFileSystem) Unwrap() error {
	return e.Err
}

// ErrorKind returns a stable label for logs and metrics.
func ErrorKind(err error) string {
	if err == nil {
		return "unknown"
	}
	var sidecar ErrMalformedSidecar
	if errors.As(err, &sidecar) {
		return "malformed_sidecar"
	}
	var image ErrUnrecognizedImageSource
	if errors.As(err, &image) {
		return "unrecognized_image_source"
	}
	var shape ErrInvalidManifestShape
	if errors.As(err, &shape) {
		return "invalid_manifest_shape"
	}
	var fsErr ErrFileSystem
	if errors.As(err, &fsErr) {
		return "filesystem"
	}
	return "other"
}
