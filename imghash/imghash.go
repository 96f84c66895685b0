// Package imghash identifies binary image content: a SHA-256 content digest
// for dedup, magic-byte format sniffing that ignores claimed file extensions,
// and markup detection to catch HTML error pages served as images.
package imghash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/net/html"
)

// Format is a sniffed image format. Its value doubles as the file extension.
type Format string

const (
	FormatJPEG Format = "jpg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatWEBP Format = "webp"
	FormatBMP  Format = "bmp"
	FormatAVIF Format = "avif"
	FormatHEIC Format = "heic"

	// FormatUnknown means no known magic bytes matched. Callers treat
	// unknown content as invalid, not as an error.
	FormatUnknown Format = ""
)

// Ext returns the filename extension for the format, without the dot.
func (f Format) Ext() string { return string(f) }

// Digest returns the lowercase hex SHA-256 of data. It identifies content
// for dedup; collision resistance is what matters, not secrecy.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

// isoBMFFBrands maps ISO-BMFF "ftyp" brands to formats. mif1/miaf are
// generic HEIF container brands that in practice carry AVIF payloads.
var isoBMFFBrands = map[string]Format{
	"avif": FormatAVIF,
	"avis": FormatAVIF,
	"mif1": FormatAVIF,
	"miaf": FormatAVIF,
	"heic": FormatHEIC,
	"heix": FormatHEIC,
	"heif": FormatHEIC,
}

// Sniff inspects the leading bytes of data for known image magic numbers.
// Any buffer starting with the JPEG start-of-image marker is accepted as
// JPEG: real-world CDNs emit nonstandard JPEG variants that stricter
// checks reject. Returns FormatUnknown when nothing matches.
func Sniff(data []byte) Format {
	if len(data) < 12 {
		if len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8 {
			return FormatJPEG
		}
		return FormatUnknown
	}

	switch {
	case data[0] == 0xFF && data[1] == 0xD8:
		return FormatJPEG
	case bytes.HasPrefix(data, pngMagic):
		return FormatPNG
	case bytes.HasPrefix(data, []byte("GIF8")):
		return FormatGIF
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWEBP
	case bytes.HasPrefix(data, []byte("BM")):
		return FormatBMP
	case bytes.Equal(data[4:8], []byte("ftyp")):
		if f, ok := isoBMFFBrands[string(data[8:12])]; ok {
			return f
		}
	}
	return FormatUnknown
}

// IsMarkup reports whether data looks like an HTML or XML document rather
// than binary image content. Origins frequently answer image requests with
// styled error pages and a 200 status, so extension and Content-Type are
// both untrustworthy.
func IsMarkup(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n\x00")
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return false
	}

	// Tokenize just the head of the buffer. A doctype, a comment
	// (<?xml ...?> tokenizes as a bogus comment), or any start tag as the
	// first token means this is a document, not an image.
	limit := len(trimmed)
	if limit > 512 {
		limit = 512
	}
	z := html.NewTokenizer(bytes.NewReader(trimmed[:limit]))
	switch z.Next() {
	case html.DoctypeToken, html.CommentToken, html.StartTagToken, html.SelfClosingTagToken:
		return true
	}
	return false
}
