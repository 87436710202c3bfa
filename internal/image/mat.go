package image

import (
	"encoding/binary"
	"fmt"

	"gocv.io/x/gocv"
)

// OpenCV stores 16-bit samples in host order. All supported hosts are little endian.

// ToMat copies the image into a CV_16UC1 Mat. The caller owns the Mat.
func (m *Image16) ToMat() (gocv.Mat, error) {
	if m.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty image")
	}
	buf := make([]byte, len(m.Pix)*2)
	for i, v := range m.Pix {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	return gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV16UC1, buf)
}

// FromMat copies a single channel Mat into an Image16. 8-bit Mats are scaled
// to the 16-bit range.
func FromMat(mat gocv.Mat) (*Image16, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("empty mat")
	}
	if mat.Channels() != 1 {
		return nil, fmt.Errorf("expected single channel mat, got %d channels", mat.Channels())
	}
	w, h := mat.Cols(), mat.Rows()
	out := NewImage16(w, h)
	switch mat.Type() {
	case gocv.MatTypeCV16UC1:
		data := mat.ToBytes()
		if len(data) < w*h*2 {
			return nil, fmt.Errorf("mat data too short: %d bytes", len(data))
		}
		for i := range out.Pix {
			out.Pix[i] = binary.LittleEndian.Uint16(data[i*2:])
		}
	case gocv.MatTypeCV8UC1:
		data := mat.ToBytes()
		for i := range out.Pix {
			out.Pix[i] = uint16(data[i]) * 257
		}
	case gocv.MatTypeCV32FC1:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.Pix[y*w+x] = clampUint16(float64(mat.GetFloatAt(y, x)))
			}
		}
	default:
		return nil, fmt.Errorf("unsupported mat type %v", mat.Type())
	}
	return out, nil
}

// ToMat copies the mask into a CV_8UC1 Mat. The caller owns the Mat.
func (m *Mask) ToMat() (gocv.Mat, error) {
	if m.Width == 0 || m.Height == 0 {
		return gocv.NewMat(), fmt.Errorf("empty mask")
	}
	buf := make([]byte, len(m.Pix))
	copy(buf, m.Pix)
	return gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV8UC1, buf)
}

// MaskFromMat copies a CV_8UC1 Mat into a Mask.
func MaskFromMat(mat gocv.Mat) (*Mask, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("empty mat")
	}
	if mat.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("expected CV_8UC1 mask, got %v", mat.Type())
	}
	out := NewMask(mat.Cols(), mat.Rows())
	copy(out.Pix, mat.ToBytes())
	return out, nil
}

// BinaryMat returns a CV_8UC1 Mat that is 255 where the image is non-zero.
func (m *Image16) BinaryMat() (gocv.Mat, error) {
	if m.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty image")
	}
	buf := make([]byte, len(m.Pix))
	for i, v := range m.Pix {
		if v != 0 {
			buf[i] = 255
		}
	}
	return gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV8UC1, buf)
}

func clampUint16(v float64) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= 65535 {
		return 65535
	}
	return uint16(v + 0.5)
}
