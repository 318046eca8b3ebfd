package provider

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// DefaultMaxFileBytes is the largest document accepted for extraction.
const DefaultMaxFileBytes = 50 << 20

const scanWindow = 1024

// MIME types accepted by the adapters.
const (
	MimePDF  = "application/pdf"
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimeGIF  = "image/gif"
	MimeWebP = "image/webp"
)

var extMime = map[string]string{
	".pdf":  MimePDF,
	".png":  MimePNG,
	".jpg":  MimeJPEG,
	".jpeg": MimeJPEG,
	".gif":  MimeGIF,
	".webp": MimeWebP,
}

// MimeFromURL infers the MIME type from the file extension of fileURL.
// Unknown extensions return "".
func MimeFromURL(fileURL string) string {
	p := fileURL
	if u, err := url.Parse(fileURL); err == nil && u.Path != "" {
		p = u.Path
	}
	return extMime[strings.ToLower(path.Ext(p))]
}

// Executable headers rejected at offset 0.
var executableHeaders = [][]byte{
	[]byte("MZ"),
	[]byte("\x7fELF"),
	{0xFE, 0xED, 0xFA, 0xCE},
	{0xFE, 0xED, 0xFA, 0xCF},
	{0xCF, 0xFA, 0xED, 0xFE},
	{0xCA, 0xFE, 0xBA, 0xBE},
	[]byte("#!"),
}

// Script signatures rejected anywhere in the first KB, matched case-insensitively.
var scriptSignatures = [][]byte{
	[]byte("<script"),
	[]byte("javascript:"),
	[]byte("vbscript:"),
	[]byte("<?php"),
	[]byte("<iframe"),
	[]byte("onerror="),
	[]byte("onload="),
	[]byte("/javascript"),
	[]byte("/launch"),
}

// ValidateFile enforces the size cap, checks that the magic bytes match
// mimeType and rejects buffers carrying script or executable signatures.
// maxBytes <= 0 uses DefaultMaxFileBytes.
func ValidateFile(provider string, data []byte, mimeType string, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	if int64(len(data)) > maxBytes {
		return NewError(KindFileTooLarge, provider,
			fmt.Sprintf("file is %d bytes, limit is %d", len(data), maxBytes), nil)
	}
	if len(data) == 0 {
		return NewError(KindUnsupportedFormat, provider, "file is empty", nil)
	}

	for _, h := range executableHeaders {
		if bytes.HasPrefix(data, h) {
			return NewError(KindUnsupportedFormat, provider, "file has an executable header", nil)
		}
	}

	head := bytes.ToLower(data[:min(len(data), scanWindow)])
	for _, sig := range scriptSignatures {
		if bytes.Contains(head, sig) {
			return NewError(KindUnsupportedFormat, provider,
				fmt.Sprintf("file contains forbidden content %q", sig), nil)
		}
	}

	if !matchesMagic(data, mimeType) {
		return NewError(KindUnsupportedFormat, provider,
			fmt.Sprintf("file content does not match %s", mimeType), nil)
	}
	return nil
}

func matchesMagic(data []byte, mimeType string) bool {
	switch mimeType {
	case MimePDF:
		tail := data[max(0, len(data)-scanWindow):]
		return bytes.HasPrefix(data, []byte("%PDF")) && bytes.Contains(tail, []byte("%%EOF"))
	case MimePNG:
		return bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A})
	case MimeJPEG:
		return bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF})
	case MimeGIF:
		return bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a"))
	case MimeWebP:
		return len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP"))
	default:
		return false
	}
}
