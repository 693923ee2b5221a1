package constants

// ImageMimeTypes maps accepted image MIME types to the file extension used for stored objects
var ImageMimeTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// IsAllowedImageType reports whether the MIME type may be stored as a message image
func IsAllowedImageType(mimeType string) bool {
	_, ok := ImageMimeTypes[mimeType]
	return ok
}

// ImageExtension returns the stored file extension for an image MIME type
func ImageExtension(mimeType string) string {
	if ext, ok := ImageMimeTypes[mimeType]; ok {
		return ext
	}
	return "bin"
}
