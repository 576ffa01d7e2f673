package network

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// decompress undoes a Content-Encoding the transport left in place, which
// happens whenever the caller set Accept-Encoding itself.
func decompress(raw []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "br":
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return nil, fmt.Errorf("brotli: %w", err)
		}
		return out, nil
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return raw, nil
	}
}

func isText(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "text/") ||
		strings.HasSuffix(mt, "json") ||
		strings.HasSuffix(mt, "xml") ||
		strings.HasSuffix(mt, "javascript")
}

// detectCharset guesses the charset of undeclared, non-UTF-8 text.
func detectCharset(data []byte) string {
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

// decodeBody returns the body as UTF-8 text. Binary content types are passed
// through untouched.
func decodeBody(raw []byte, header http.Header) (string, error) {
	data, err := decompress(raw, header.Get("Content-Encoding"))
	if err != nil {
		return "", err
	}

	contentType := header.Get("Content-Type")
	if !isText(contentType) || len(data) == 0 {
		return string(data), nil
	}

	if _, params, err := mime.ParseMediaType(contentType); err == nil && params["charset"] != "" {
		r, err := charset.NewReader(bytes.NewReader(data), contentType)
		if err != nil {
			return string(data), nil
		}
		out, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("decode %s: %w", params["charset"], err)
		}
		return string(out), nil
	}

	if utf8.Valid(data) {
		return string(data), nil
	}
	enc, _ := charset.Lookup(detectCharset(data))
	if enc == nil {
		return string(data), nil
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return string(data), nil
	}
	return string(out), nil
}
