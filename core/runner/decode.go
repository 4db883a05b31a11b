package runner

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zeebo/blake3"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

var errInvalidUTF8 = errors.New("invalid UTF-8 byte sequence")

// lookupEncoding resolves a charset label such as "utf-8" or "latin1". A nil
// encoding means the output is already UTF-8 and only needs validating.
func lookupEncoding(label string) (encoding.Encoding, string, error) {
	if label == "" {
		return nil, "UTF-8", nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, "", fmt.Errorf("unsupported output encoding %q: %w", label, err)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		name = label
	}
	if name == "utf-8" {
		return nil, "UTF-8", nil
	}
	return enc, name, nil
}

// decodeOutput transcodes b to UTF-8 and rejects invalid sequences.
func decodeOutput(enc encoding.Encoding, b []byte) (string, error) {
	if enc != nil {
		decoded, err := enc.NewDecoder().Bytes(b)
		if err != nil {
			return "", err
		}
		b = decoded
	}
	if !utf8.Valid(b) {
		return "", errInvalidUTF8
	}
	return string(b), nil
}

// decodeLossy replaces invalid UTF-8 with U+FFFD. Used for stderr, which
// never fails a run.
func decodeLossy(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

// HashText returns the hex BLAKE3 digest of text.
func HashText(text string) string {
	sum := blake3.Sum256([]byte(text))
	return fmt.Sprintf("%x", sum[:])
}
