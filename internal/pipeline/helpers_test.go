package pipeline

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func gradientRGBA(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}
	return img
}

func solidRGBA(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t testing.TB, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func decodeBytes(t testing.TB, data []byte) (image.Image, string) {
	t.Helper()

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return img, format
}

// withAPP1 splices an APP1 segment holding payload right after the JPEG SOI.
func withAPP1(t testing.TB, jpegBytes, payload []byte) []byte {
	t.Helper()

	if len(jpegBytes) < 2 || jpegBytes[0] != 0xFF || jpegBytes[1] != 0xD8 {
		t.Fatal("input is not a jpeg stream")
	}

	segment := []byte{0xFF, 0xE1, 0, 0}
	binary.BigEndian.PutUint16(segment[2:], uint16(len(payload)+2))
	segment = append(segment, payload...)

	out := make([]byte, 0, len(jpegBytes)+len(segment))
	out = append(out, jpegBytes[:2]...)
	out = append(out, segment...)
	out = append(out, jpegBytes[2:]...)
	return out
}

// exifPayload builds a little-endian EXIF block with Make="Abc" and
// Orientation=6 in IFD0.
func exifPayload() []byte {
	var b bytes.Buffer
	b.WriteString("Exif\x00\x00")

	le := binary.LittleEndian
	tiff := make([]byte, 0, 64)
	tiff = append(tiff, 'I', 'I')
	tiff = le.AppendUint16(tiff, 42)
	tiff = le.AppendUint32(tiff, 8)

	tiff = le.AppendUint16(tiff, 2)
	// Make, ASCII, count 4, inline "Abc\x00"
	tiff = le.AppendUint16(tiff, 0x010F)
	tiff = le.AppendUint16(tiff, 2)
	tiff = le.AppendUint32(tiff, 4)
	tiff = append(tiff, 'A', 'b', 'c', 0)
	// Orientation, SHORT, count 1, inline 6
	tiff = le.AppendUint16(tiff, 0x0112)
	tiff = le.AppendUint16(tiff, 3)
	tiff = le.AppendUint32(tiff, 1)
	tiff = le.AppendUint16(tiff, 6)
	tiff = le.AppendUint16(tiff, 0)
	tiff = le.AppendUint32(tiff, 0)

	b.Write(tiff)
	return b.Bytes()
}

// corruptExifPayload has a valid intro but an IFD offset past the end.
func corruptExifPayload() []byte {
	payload := []byte("Exif\x00\x00II")
	payload = binary.LittleEndian.AppendUint16(payload, 42)
	payload = binary.LittleEndian.AppendUint32(payload, 0x00010000)
	return payload
}

// failingCodec delegates to the pure-Go codec except for one format.
type failingCodec struct {
	stdCodec
	fail Format
}

var errCodecBroken = errors.New("codec broken")

func (c failingCodec) Encode(img image.Image, format Format, quality int) ([]byte, error) {
	if format == c.fail {
		return nil, errCodecBroken
	}
	return c.stdCodec.Encode(img, format, quality)
}
