package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ringrelay/internal/constants"
)

var (
	ErrMalformedDataURI = errors.New("malformed data URI")
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrImageTooLarge    = errors.New("image too large")
)

// Image is a decoded inline image
type Image struct {
	MimeType string
	Data     []byte
}

// Extension returns the file extension objects of this type are stored under
func (i Image) Extension() string {
	return constants.ImageExtension(i.MimeType)
}

// DecodeDataURI parses a base64 data: URI holding an image of at most
// maxBytes. The declared type must be an accepted image type and must agree
// with the sniffed content.
func DecodeDataURI(uri string, maxBytes int) (Image, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return Image{}, fmt.Errorf("%w: missing data: scheme", ErrMalformedDataURI)
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Image{}, fmt.Errorf("%w: missing payload", ErrMalformedDataURI)
	}

	params := strings.Split(header, ";")
	mimeType := strings.ToLower(strings.TrimSpace(params[0]))
	if params[len(params)-1] != "base64" {
		return Image{}, fmt.Errorf("%w: only base64 payloads are accepted", ErrMalformedDataURI)
	}
	if !constants.IsAllowedImageType(mimeType) {
		return Image{}, fmt.Errorf("%w: %q", ErrUnsupportedImage, mimeType)
	}

	if maxBytes > 0 && base64.StdEncoding.DecodedLen(len(payload)) > maxBytes+2 {
		return Image{}, fmt.Errorf("%w: limit is %d bytes", ErrImageTooLarge, maxBytes)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrMalformedDataURI, err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: empty payload", ErrMalformedDataURI)
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return Image{}, fmt.Errorf("%w: limit is %d bytes", ErrImageTooLarge, maxBytes)
	}

	if sniffed := http.DetectContentType(data); sniffed != mimeType {
		return Image{}, fmt.Errorf("%w: declared %s but content is %s", ErrUnsupportedImage, mimeType, sniffed)
	}
	return Image{MimeType: mimeType, Data: data}, nil
}
