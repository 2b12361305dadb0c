// Package blobstore is the object storage the sizes job reads originals from
// and writes derivatives to.
//
// Every backend reports service-side failures as *Error so callers can decide
// on retries by error code without knowing which SDK produced them. Local
// failures (opening a scratch file, a broken connection that never produced
// a service response) are returned as ordinary wrapped errors.
package blobstore

import (
	"context"
	"errors"
	"fmt"
)

// CodeRequestTimeout is the service error code for a request the store gave
// up on. It is the only code worth retrying.
const CodeRequestTimeout = "RequestTimeout"

// Store downloads and uploads objects addressed by bucket and key.
type Store interface {
	// Download writes the object to localPath and returns the bytes written.
	// A non-empty versionID pins a specific object version.
	Download(ctx context.Context, bucket, key, versionID, localPath string) (int64, error)
	// Upload stores the file at localPath under key.
	Upload(ctx context.Context, localPath, bucket, key string, opts PutOptions) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, bucket, key string) error
}

// PutOptions are the object attributes applied on upload.
type PutOptions struct {
	ContentType string
	// ACL is a canned ACL name such as "public-read".
	ACL string
	// Tagging is a URL-encoded tag set ("Project=media&Owner=web"); empty
	// means no tags.
	Tagging string
}

// Error is a failure reported by the storage service itself.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether the request may succeed if simply sent again.
func (e *Error) Temporary() bool {
	return e.Code == CodeRequestTimeout
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var blobErr *Error
	if errors.As(err, &blobErr) {
		return blobErr, true
	}
	return nil, false
}
