package image

import "imagec/pkg/geometry"

// Mask is an 8-bit binary buffer. Non-zero pixels are set.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewMask allocates an empty mask.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Pix: make([]uint8, width*height)}
}

// At returns the mask value at (x, y). Out of range reads return 0.
func (m *Mask) At(x, y int) uint8 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	return m.Pix[y*m.Width+x]
}

// IsSet reports whether the pixel at (x, y) is non-zero.
func (m *Mask) IsSet(x, y int) bool {
	return m.At(x, y) != 0
}

// Set writes the mask value at (x, y). Out of range writes are ignored.
func (m *Mask) Set(x, y int, v uint8) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = v
}

// CountNonZero returns the number of set pixels.
func (m *Mask) CountNonZero() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	c := &Mask{Width: m.Width, Height: m.Height, Pix: make([]uint8, len(m.Pix))}
	copy(c.Pix, m.Pix)
	return c
}

// Size returns the mask dimensions.
func (m *Mask) Size() geometry.Size {
	return geometry.Size{Width: m.Width, Height: m.Height}
}

// Equal compares dimensions and content.
func (m *Mask) Equal(other *Mask) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.Width != other.Width || m.Height != other.Height || len(m.Pix) != len(other.Pix) {
		return false
	}
	for i := range m.Pix {
		if m.Pix[i] != other.Pix[i] {
			return false
		}
	}
	return true
}

// FillCircle sets all pixels within radius of (cx, cy).
func (m *Mask) FillCircle(cx, cy, radius float64) {
	r2 := radius * radius
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			if dx*dx+dy*dy <= r2 {
				m.Pix[y*m.Width+x] = 255
			}
		}
	}
}
