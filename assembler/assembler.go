// Package assembler turns a buffered track into the outbound HTTP payload.
package assembler

import (
	"mime"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CacheControl is sent with every payload. A failed or stale artifact must
// never be replayed from a browser or proxy cache on retry.
const CacheControl = "no-cache, no-store, must-revalidate"

const maxBaseRunes = 150

// unsafe is stripped from titles; these break filenames on at least one
// common filesystem or the Content-Disposition quoting.
var unsafe = strings.NewReplacer(
	"/", "",
	"\\", "",
	":", "",
	"*", "",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// Payload is a ready-to-send audio response.
type Payload struct {
	// Filename is the display name, UTF-8, with extension.
	Filename string
	// ASCIIFilename is Filename with diacritics folded and any remaining
	// non-ASCII removed, for clients that ignore filename*.
	ASCIIFilename string

	ContentType  string
	CacheControl string
	Body         []byte
}

// Assembler builds payloads for one codec.
type Assembler struct {
	ext         string
	defaultBase string
	defaultMime string
}

// New creates an Assembler. ext is appended to every filename; defaultBase
// names files whose title is empty or entirely unsafe.
func New(ext, defaultBase, defaultMime string) *Assembler {
	ext = strings.TrimPrefix(ext, ".")
	if defaultBase == "" {
		defaultBase = "audio"
	}
	if defaultMime == "" {
		defaultMime = "application/octet-stream"
	}
	return &Assembler{ext: ext, defaultBase: defaultBase, defaultMime: defaultMime}
}

// Assemble derives the filename from title and attaches the no-cache policy.
func (a *Assembler) Assemble(title string, body []byte, mimeType string) Payload {
	if mimeType == "" {
		mimeType = a.defaultMime
	}
	base := SanitizeTitle(title)
	if base == "" {
		base = a.defaultBase
	}
	ascii := asciiFold(base)
	if ascii == "" {
		ascii = asciiFold(a.defaultBase)
	}
	return Payload{
		Filename:      base + "." + a.ext,
		ASCIIFilename: ascii + "." + a.ext,
		ContentType:   mimeType,
		CacheControl:  CacheControl,
		Body:          body,
	}
}

// SanitizeTitle normalises title to NFC, drops control and unsafe characters,
// collapses whitespace and caps the length. It may return "".
func SanitizeTitle(title string) string {
	s := norm.NFC.String(title)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return ' '
		}
		return r
	}, s)
	s = unsafe.Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, ". ")

	if utf8.RuneCountInString(s) > maxBaseRunes {
		s = strings.TrimRight(string([]rune(s)[:maxBaseRunes]), ". ")
	}
	return s
}

var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func asciiFold(s string) string {
	folded, _, err := transform.String(foldDiacritics, s)
	if err != nil {
		folded = s
	}
	folded = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, folded)
	return strings.Trim(strings.Join(strings.Fields(folded), " "), ". ")
}

// ContentDisposition renders an attachment header carrying the ASCII
// fallback name and, when the real name is not plain ASCII, its RFC 2231
// UTF-8 form.
func (p Payload) ContentDisposition() string {
	disp := mime.FormatMediaType("attachment", map[string]string{"filename": p.ASCIIFilename})
	if disp == "" {
		disp = "attachment"
	}
	ext := strings.TrimPrefix(mime.FormatMediaType("attachment", map[string]string{"filename": p.Filename}), "attachment")
	if strings.HasPrefix(ext, "; filename*=") {
		disp += ext
	}
	return disp
}

// Headers returns the response headers for p, excluding Content-Length.
func (p Payload) Headers() map[string]string {
	return map[string]string{
		"Content-Type":        p.ContentType,
		"Content-Disposition": p.ContentDisposition(),
		"Cache-Control":       p.CacheControl,
		"Pragma":              "no-cache",
		"Expires":             "0",
	}
}
