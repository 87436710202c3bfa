// Package image provides the 16-bit single channel buffer every pipeline
// step works on, binary masks, Z projection and conversion to OpenCV Mats.
package image

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"imagec/pkg/geometry"

	_ "golang.org/x/image/tiff"
)

// Image16 is a 16-bit single channel image stored row-major.
type Image16 struct {
	Width  int
	Height int
	Pix    []uint16
}

// NewImage16 allocates a black image.
func NewImage16(width, height int) *Image16 {
	return &Image16{Width: width, Height: height, Pix: make([]uint16, width*height)}
}

// NewImage16Filled allocates an image with every pixel set to v.
func NewImage16Filled(width, height int, v uint16) *Image16 {
	img := NewImage16(width, height)
	img.Fill(v)
	return img
}

// At returns the pixel at (x, y). Out of range reads return 0.
func (m *Image16) At(x, y int) uint16 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	return m.Pix[y*m.Width+x]
}

// Set writes the pixel at (x, y). Out of range writes are ignored.
func (m *Image16) Set(x, y int, v uint16) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = v
}

// Fill sets every pixel to v.
func (m *Image16) Fill(v uint16) {
	for i := range m.Pix {
		m.Pix[i] = v
	}
}

// Empty reports whether the image has no pixels.
func (m *Image16) Empty() bool {
	return m == nil || m.Width == 0 || m.Height == 0
}

// Size returns the image dimensions.
func (m *Image16) Size() geometry.Size {
	return geometry.Size{Width: m.Width, Height: m.Height}
}

// Bounds returns the image rectangle anchored at the origin.
func (m *Image16) Bounds() geometry.RectInt {
	return geometry.RectInt{Width: m.Width, Height: m.Height}
}

// Clone returns a deep copy.
func (m *Image16) Clone() *Image16 {
	c := &Image16{Width: m.Width, Height: m.Height, Pix: make([]uint16, len(m.Pix))}
	copy(c.Pix, m.Pix)
	return c
}

// SameSize reports whether both images have equal dimensions.
func (m *Image16) SameSize(other *Image16) bool {
	return other != nil && m.Width == other.Width && m.Height == other.Height
}

// Crop copies the part of the image covered by r, clipped to the image bounds.
func (m *Image16) Crop(r geometry.RectInt) *Image16 {
	r = r.Intersect(m.Bounds())
	out := NewImage16(r.Width, r.Height)
	for y := 0; y < r.Height; y++ {
		src := (r.Y+y)*m.Width + r.X
		copy(out.Pix[y*r.Width:(y+1)*r.Width], m.Pix[src:src+r.Width])
	}
	return out
}

// Paste copies src into the image with its top-left corner at (x, y).
func (m *Image16) Paste(src *Image16, x, y int) {
	dst := geometry.NewRectInt(x, y, src.Width, src.Height).Intersect(m.Bounds())
	for row := dst.Y; row < dst.Bottom(); row++ {
		sOff := (row-y)*src.Width + (dst.X - x)
		copy(m.Pix[row*m.Width+dst.X:row*m.Width+dst.Right()], src.Pix[sOff:sOff+dst.Width])
	}
}

// MinMax returns the smallest and largest pixel value.
func (m *Image16) MinMax() (uint16, uint16) {
	if len(m.Pix) == 0 {
		return 0, 0
	}
	lo, hi := m.Pix[0], m.Pix[0]
	for _, v := range m.Pix[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// ToGray16 converts to the standard library image type, e.g. for PNG encoding.
func (m *Image16) ToGray16() *image.Gray16 {
	g := image.NewGray16(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			g.SetGray16(x, y, color.Gray16{Y: m.Pix[y*m.Width+x]})
		}
	}
	return g
}

// FromImage converts any decoded image to 16-bit gray. 8-bit sources are
// scaled by 65535/255 and color sources are reduced to luminance.
func FromImage(src image.Image) *Image16 {
	b := src.Bounds()
	out := NewImage16(b.Dx(), b.Dy())
	if g, ok := src.(*image.Gray16); ok {
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				out.Pix[y*out.Width+x] = g.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			}
		}
		return out
	}
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			c := color.Gray16Model.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			out.Pix[y*out.Width+x] = c.Y
		}
	}
	return out
}

// Load decodes a PNG, JPEG or plain TIFF file into a 16-bit gray image.
func Load(path string) (*Image16, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return FromImage(img), nil
}

// SupportedFormats returns the list of supported image formats.
func SupportedFormats() []string {
	return []string{".tiff", ".tif", ".btf", ".png", ".jpg", ".jpeg"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}

// IsTIFF reports whether the path has a TIFF extension.
func IsTIFF(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff", ".btf":
		return true
	}
	return false
}
