// Package testimages generates small valid images and multipart bodies for
// tests.
package testimages

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math/rand"
	"mime/multipart"
	"net/textproto"
)

func noise(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	return img
}

// PNG returns a w x h noise image encoded as PNG.
func PNG(w, h int) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, noise(w, h, 1)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// JPEG returns a w x h noise image encoded as JPEG.
func JPEG(w, h int) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, noise(w, h, 2), &jpeg.Options{Quality: 90}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// GIF returns a w x h noise image encoded as GIF.
func GIF(w, h int) []byte {
	src := noise(w, h, 3)
	img := image.NewPaletted(src.Bounds(), palette.Plan9)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, src.At(x, y))
		}
	}
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// PadTo appends zero bytes after the image trailer until data is exactly size
// bytes long. Decoders and sniffers ignore the trailing bytes.
func PadTo(data []byte, size int) []byte {
	if len(data) >= size {
		return data
	}
	out := make([]byte, size)
	copy(out, data)
	return out
}

// Part is one multipart section.
type Part struct {
	Field       string
	Filename    string // empty for plain fields
	ContentType string
	Data        []byte
}

// Multipart encodes parts and returns the body and its Content-Type header.
func Multipart(parts ...Part) ([]byte, string) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		if p.Filename != "" {
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, p.Field, p.Filename))
		} else {
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, p.Field))
		}
		if p.ContentType != "" {
			h.Set("Content-Type", p.ContentType)
		}
		pw, err := w.CreatePart(h)
		if err != nil {
			panic(err)
		}
		if _, err := pw.Write(p.Data); err != nil {
			panic(err)
		}
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes(), w.FormDataContentType()
}

// File is a shorthand for a single "upload" file part.
func File(filename, contentType string, data []byte) Part {
	return Part{Field: "upload", Filename: filename, ContentType: contentType, Data: data}
}
