// Package keys classifies S3 object keys handed to the sizes job and derives
// the keys its resized copies are published under.
//
// Keys arrive from S3 Batch Operations percent-plus-encoded ("my+photo%21.jpg").
// IsPhotoValid looks at the raw key; everything that addresses storage works
// on the decoded form.
package keys

import (
	"strings"
)

// Derivative key prefixes. Both are reserved: a key whose final segment
// starts with one of them is a derivative and is never resized again.
const (
	ThumbPrefix  = "thumb_"
	MediumPrefix = "m3m_"
)

// reservedPrefixes lists every final-segment prefix that marks an object the
// job must not treat as a source. bwt_ assets belong to another pipeline.
var reservedPrefixes = []string{"bwt_", ThumbPrefix, MediumPrefix}

// skippedSuffixes are matched case-insensitively against the whole key:
// directory markers and non-raster web assets.
var skippedSuffixes = []string{"/", ".svg", ".js"}

// IsPhotoValid reports whether key should be resized.
//
// No extension allow-list is applied: anything that is not a directory
// marker, an SVG/JS asset, or a reserved-prefix derivative is eligible and
// left for the decoder to accept or reject.
func IsPhotoValid(key string) bool {
	lower := strings.ToLower(key)
	for _, suffix := range skippedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}

	base := Base(key)
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(base, prefix) {
			return false
		}
	}
	return true
}

// Base returns the final path segment of key (everything after the last
// "/"), or key itself when it has no separator.
func Base(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// Derive decodes sourceKey and inserts prefix in front of its final segment:
// "a/b/c.jpg" becomes "a/b/<prefix>c.jpg" and "c.jpg" becomes "<prefix>c.jpg".
func Derive(sourceKey, prefix string) string {
	key := Decode(sourceKey)
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[:i] + "/" + prefix + key[i+1:]
	}
	return prefix + key
}

// ThumbKey is the key the thumbnail of sourceKey is stored under.
func ThumbKey(sourceKey string) string {
	return Derive(sourceKey, ThumbPrefix)
}

// MediumKey is the key the medium-size copy of sourceKey is stored under.
func MediumKey(sourceKey string) string {
	return Derive(sourceKey, MediumPrefix)
}

// BucketFromARN returns the bucket name of an S3 bucket ARN
// ("arn:aws:s3:::my-bucket" -> "my-bucket"). A value without ":::" is
// returned unchanged so plain bucket names pass through.
func BucketFromARN(arn string) string {
	if i := strings.LastIndex(arn, ":::"); i >= 0 {
		return arn[i+3:]
	}
	return arn
}
