package mail

import (
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// minDetectLen is the shortest input handed to charset detection. Shorter
// samples are guessed wrong often enough that Windows-1252 is a better bet.
const minDetectLen = 64

// ensureUTF8 returns s as valid UTF-8. Input that is already valid is
// returned unchanged; otherwise the charset is detected, falling back to
// Windows-1252 and finally to replacing invalid bytes.
func ensureUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	if len(s) >= minDetectLen {
		if r, err := chardet.NewTextDetector().DetectBest([]byte(s)); err == nil && r.Confidence >= 50 {
			if enc := getEncodingByName(r.Charset); enc != nil {
				if out, err := enc.NewDecoder().String(s); err == nil && utf8.ValidString(out) {
					return out
				}
			}
		}
	}

	if out, err := charmap.Windows1252.NewDecoder().String(s); err == nil && utf8.ValidString(out) {
		return out
	}
	return sanitizeUTF8(s)
}

// sanitizeUTF8 replaces each invalid byte with U+FFFD.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
		} else {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

// getEncodingByName maps a charset label to an encoding, or nil.
func getEncodingByName(name string) encoding.Encoding {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil
	}
	return enc
}
