package material

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatSize renders a byte count the way the library has always displayed
// it: base 1024, at most two decimals, trailing zeros trimmed.
func FormatSize(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(sizeUnits)-1 {
		v /= 1024
		i++
	}
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + sizeUnits[i]
}

var extPattern = regexp.MustCompile(`\.[^/.]+$`)

// TitleFromFileName strips the last extension from name.
func TitleFromFileName(name string) string {
	t := extPattern.ReplaceAllString(name, "")
	if t == "" {
		return name
	}
	return t
}

// EncodeDataURL builds a base64 data: URL for data.
func EncodeDataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

var errNotDataURL = errors.New("not a data URL")

// DecodeDataURL returns the media type and payload of a data: URL.
func DecodeDataURL(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, errNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing payload separator", errNotDataURL)
	}

	isBase64 := false
	if m, found := strings.CutSuffix(meta, ";base64"); found {
		meta, isBase64 = m, true
	}
	mediaType, _, _ := strings.Cut(meta, ";")
	if mediaType == "" {
		mediaType = "text/plain"
	}

	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, fmt.Errorf("decoding base64 payload: %w", err)
		}
		return mediaType, data, nil
	}
	text, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decoding payload: %w", err)
	}
	return mediaType, []byte(text), nil
}
