package imagecache

import (
	"bufio"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DecodeFile loads and decodes path, registering JPEG/PNG/GIF/WebP via
// the blank imports above (golang.org/x/image/webp covers the format
// the standard library's image package doesn't).
func DecodeFile(path string) (Decoded, error) {
	f, err := os.Open(path)
	if err != nil {
		return Decoded{}, fmt.Errorf("imagecache: open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return Decoded{}, fmt.Errorf("imagecache: decode %s: %w", path, err)
	}
	return Decoded{Image: img, Bytes: estimateBytes(img)}, nil
}

// Scale produces a new Decoded image resized to width x height via
// bilinear interpolation, for the pre-scaled variant keys spec.md
// §4.H describes.
func Scale(src image.Image, width, height int) Decoded {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return Decoded{Image: dst, Bytes: estimateBytes(dst)}
}

// estimateBytes approximates an image's resident memory: width *
// height * 4 bytes (RGBA), a reasonable upper bound regardless of the
// source format's actual bit depth.
func estimateBytes(img image.Image) int64 {
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}
