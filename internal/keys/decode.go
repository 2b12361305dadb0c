package keys

import (
	"net/url"
	"strings"
)

// Decode undoes the form encoding S3 Batch Operations applies to keys:
// "+" becomes a space and "%XX" becomes the byte it names.
//
// Malformed escapes ("100%", "%zz") are kept literally instead of failing, so
// a key that was never encoded decodes to itself.
func Decode(key string) string {
	if !strings.ContainsAny(key, "%+") {
		return key
	}
	if decoded, err := url.QueryUnescape(key); err == nil {
		return decoded
	}

	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		switch c := key[i]; {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(key) && isHex(key[i+1]) && isHex(key[i+2]):
			b.WriteByte(unhex(key[i+1])<<4 | unhex(key[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
