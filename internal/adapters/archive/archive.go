// Package archive normalizes downloaded catalog payloads into a single
// canonical shape: a gzip stream holding exactly one document.
//
// Portals are not consistent about what they serve. Some hand back plain
// gzip, some wrap the same document in a zip with one entry, and a few
// return the raw XML with a compressed file extension on the link. All of
// that funnels through Normalize so the cache and the parser only ever see
// gzip bytes.
package archive

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"pricewatch/internal/platform/errors"
)

// Encoding names the character encoding of a text payload.
type Encoding string

const (
	EncodingUTF8    Encoding = "utf-8"
	EncodingUTF16LE Encoding = "utf-16le"
	EncodingUTF16BE Encoding = "utf-16be"
)

var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZip  = []byte{'P', 'K'}
)

// IsGzip reports whether b starts with the gzip magic bytes.
func IsGzip(b []byte) bool { return bytes.HasPrefix(b, magicGzip) }

// IsZip reports whether b starts with the zip magic bytes.
func IsZip(b []byte) bool { return bytes.HasPrefix(b, magicZip) }

// Normalize converts a downloaded payload into canonical gzip bytes.
//
// Zip archives are unwrapped to their first entry and the entry is
// recompressed as gzip. Payloads that already are gzip pass through
// untouched. Anything else is treated as an uncompressed document and
// gzip-compressed as-is.
func Normalize(raw []byte) ([]byte, error) {
	switch {
	case IsGzip(raw):
		return raw, nil
	case IsZip(raw):
		inner, err := firstZipEntry(raw)
		if err != nil {
			return nil, err
		}
		return compress(inner)
	default:
		return compress(raw)
	}
}

// Decompress returns the document held by a canonical gzip payload.
func Decompress(gz []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(gz))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorCodeInvalidArgument, "archive: not a gzip payload")
	}
	defer func() { _ = zr.Close() }()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorCodeInvalidArgument, "archive: truncated gzip payload")
	}
	return out, nil
}

// DecodeText converts raw document bytes from enc into UTF-8. Byte order
// marks are honored when present and stripped from the result.
func DecodeText(b []byte, enc Encoding) ([]byte, error) {
	var dec transform.Transformer
	switch enc {
	case "", EncodingUTF8:
		return bytes.TrimPrefix(b, []byte{0xef, 0xbb, 0xbf}), nil
	case EncodingUTF16LE:
		dec = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	case EncodingUTF16BE:
		dec = unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()
	default:
		return nil, errors.Newf(errors.ErrorCodeInvalidArgument, "archive: unknown encoding %q", enc)
	}

	out, _, err := transform.Bytes(dec, b)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorCodeInvalidArgument, "archive: decode %s", enc)
	}
	return out, nil
}

func firstZipEntry(raw []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorCodeInvalidArgument, "archive: bad zip payload")
	}
	if len(zr.File) == 0 {
		return nil, errors.New(errors.ErrorCodeInvalidArgument, "archive: empty zip payload")
	}

	f, err := zr.File[0].Open()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorCodeInvalidArgument, "archive: open zip entry")
	}
	defer func() { _ = f.Close() }()

	out, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorCodeInvalidArgument, "archive: read zip entry")
	}
	return out, nil
}

func compress(doc []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(doc); err != nil {
		_ = zw.Close()
		return nil, errors.Wrap(err, errors.ErrorCodeUnknown, "archive: gzip write")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorCodeUnknown, "archive: gzip close")
	}
	return buf.Bytes(), nil
}
