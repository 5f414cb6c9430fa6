// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package imaging processes the two image kinds the site settings carry:
// the site logo and the payment QR code. Uploads are decoded, auto-rotated
// per EXIF, resized to the kind's bounds, and re-encoded without metadata.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp" // WebP decoder
)

// Upload kinds.
const (
	KindLogo      = "logo"
	KindPaymentQR = "payment_qr"
)

// MaxUploadBytes caps the accepted upload size.
const MaxUploadBytes = 5 << 20 // 5 MiB

// kindBounds maps each upload kind to its maximum dimensions. Images
// larger than the bounds are fit inside them preserving aspect ratio.
var kindBounds = map[string]struct{ w, h int }{
	KindLogo:      {512, 512},
	KindPaymentQR: {600, 600},
}

// Result describes a processed and stored upload.
type Result struct {
	Width    int
	Height   int
	MimeType string
	Size     int64
	// Path is relative to the uploads directory, suitable for storing in
	// the settings record and serving under /uploads/.
	Path string
}

// Processor handles settings image uploads using pure Go libraries.
type Processor struct {
	uploadDir string
}

// NewProcessor creates a processor rooted at uploadDir.
func NewProcessor(uploadDir string) *Processor {
	return &Processor{uploadDir: uploadDir}
}

// Process reads an uploaded image, normalizes it for the given kind, and
// stores it under the uploads directory. The stored file has EXIF stripped
// (pure Go encoders do not preserve it).
func (p *Processor) Process(reader io.Reader, kind string) (*Result, error) {
	bounds, ok := kindBounds[kind]
	if !ok {
		return nil, fmt.Errorf("unknown upload kind %q", kind)
	}

	data, err := io.ReadAll(io.LimitReader(reader, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image data: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", MaxUploadBytes)
	}

	format := detectFormat(data)
	if format == "" {
		return nil, fmt.Errorf("unsupported image format")
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	img = applyOrientation(img, readExifOrientation(bytes.NewReader(data)))

	if b := img.Bounds(); b.Dx() > bounds.w || b.Dy() > bounds.h {
		img = imaging.Fit(img, bounds.w, bounds.h, imaging.Lanczos)
	}

	// QR codes must stay crisp, so they are always stored as PNG.
	// Logos keep their format except WebP, which has no pure Go encoder.
	outFormat := format
	if kind == KindPaymentQR {
		outFormat = "png"
	} else if format == "webp" {
		outFormat = "jpeg"
	}

	encoded, err := encodeImage(img, outFormat, 90)
	if err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}

	relPath := filepath.Join(kind, kind+"."+extFor(outFormat))
	if err := p.save(relPath, encoded); err != nil {
		return nil, err
	}

	final := img.Bounds()
	return &Result{
		Width:    final.Dx(),
		Height:   final.Dy(),
		MimeType: formatToMimeType(outFormat),
		Size:     int64(len(encoded)),
		Path:     filepath.ToSlash(relPath),
	}, nil
}

// Remove deletes the stored file for an upload kind. Missing files are not
// an error.
func (p *Processor) Remove(kind string) error {
	if _, ok := kindBounds[kind]; !ok {
		return fmt.Errorf("unknown upload kind %q", kind)
	}
	dir := filepath.Join(p.uploadDir, kind)
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting %s upload: %w", kind, err)
	}
	return nil
}

// readExifOrientation reads the EXIF orientation tag from image data.
// Returns 1 (normal) if orientation cannot be determined.
func readExifOrientation(r io.Reader) int {
	x, err := exif.Decode(r)
	if err != nil {
		return 1
	}

	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}

	orientation, err := tag.Int(0)
	if err != nil {
		return 1
	}

	return orientation
}

// applyOrientation applies EXIF orientation transformation to an image.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.FlipH(imaging.Rotate270(img))
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.FlipH(imaging.Rotate90(img))
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// encodeImage encodes an image to bytes with the specified format and quality.
func encodeImage(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	default:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// detectFormat detects the image format from raw bytes.
func detectFormat(data []byte) string {
	contentType := http.DetectContentType(data)
	// Explicitly reject TIFF (CVE-2023-36308 in disintegration/imaging)
	if strings.Contains(contentType, "tiff") {
		return ""
	}
	switch {
	case strings.Contains(contentType, "jpeg"):
		return "jpeg"
	case strings.Contains(contentType, "png"):
		return "png"
	case strings.Contains(contentType, "webp"):
		return "webp"
	default:
		return ""
	}
}

func extFor(format string) string {
	if format == "png" {
		return "png"
	}
	return "jpg"
}

// formatToMimeType converts format string to MIME type.
func formatToMimeType(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// save writes data under the uploads directory, rejecting any path that
// escapes it.
func (p *Processor) save(relPath string, data []byte) error {
	clean := filepath.Clean(relPath)
	if strings.Contains(clean, "..") || filepath.IsAbs(clean) {
		return fmt.Errorf("invalid upload path")
	}

	absBase, err := filepath.Abs(p.uploadDir)
	if err != nil {
		return fmt.Errorf("resolving uploads directory: %w", err)
	}

	absTarget := filepath.Join(absBase, clean)
	rel, err := filepath.Rel(absBase, absTarget)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path traversal detected")
	}

	if err := os.MkdirAll(filepath.Dir(absTarget), 0755); err != nil {
		return fmt.Errorf("creating upload directory: %w", err)
	}
	if err := os.WriteFile(absTarget, data, 0644); err != nil {
		return fmt.Errorf("saving image: %w", err)
	}
	return nil
}
