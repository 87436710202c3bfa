package image

import (
	"image"
	"image/color"
	"testing"

	"imagec/internal/enums"
	"imagec/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(w, h int) *Image16 {
	img := NewImage16(w, h)
	for i := range img.Pix {
		img.Pix[i] = uint16(i)
	}
	return img
}

func TestCropClipsToBounds(t *testing.T) {
	img := ramp(10, 8)
	c := img.Crop(geometry.NewRectInt(7, 6, 5, 5))
	assert.Equal(t, 3, c.Width)
	assert.Equal(t, 2, c.Height)
	assert.Equal(t, img.At(7, 6), c.At(0, 0))
	assert.Equal(t, img.At(9, 7), c.At(2, 1))
}

func TestPasteIsInverseOfCrop(t *testing.T) {
	img := ramp(16, 16)
	part := img.Crop(geometry.NewRectInt(4, 5, 6, 3))
	dst := NewImage16(16, 16)
	dst.Paste(part, 4, 5)
	for y := 5; y < 8; y++ {
		for x := 4; x < 10; x++ {
			assert.Equal(t, img.At(x, y), dst.At(x, y))
		}
	}
	assert.Equal(t, uint16(0), dst.At(3, 5))
}

func TestFromImageScales8Bit(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 2, 1))
	g.SetGray(0, 0, color.Gray{Y: 255})
	g.SetGray(1, 0, color.Gray{Y: 1})
	out := FromImage(g)
	assert.Equal(t, uint16(65535), out.At(0, 0))
	assert.Equal(t, uint16(257), out.At(1, 0))
}

func TestMinMax(t *testing.T) {
	img := NewImage16(3, 1)
	img.Pix = []uint16{7, 2, 900}
	lo, hi := img.MinMax()
	assert.Equal(t, uint16(2), lo)
	assert.Equal(t, uint16(900), hi)
}

func TestProjector(t *testing.T) {
	a := NewImage16Filled(2, 2, 10)
	b := NewImage16Filled(2, 2, 30)
	b.Set(0, 0, 0)

	tests := []struct {
		mode enums.ZProjection
		want []uint16
	}{
		{enums.ZProjectionMax, []uint16{10, 30, 30, 30}},
		{enums.ZProjectionMin, []uint16{0, 10, 10, 10}},
		{enums.ZProjectionAvg, []uint16{5, 20, 20, 20}},
	}
	for _, tt := range tests {
		p, err := NewProjector(tt.mode, 2, 2)
		require.NoError(t, err)
		require.NoError(t, p.Add(a))
		require.NoError(t, p.Add(b))
		assert.Equal(t, 2, p.Count())
		out, err := p.Render()
		require.NoError(t, err)
		assert.Equal(t, tt.want, out.Pix, tt.mode.String())
		require.NoError(t, p.Close())
	}

	_, err := NewProjector(enums.ZProjectionNone, 2, 2)
	assert.Error(t, err)

	p, _ := NewProjector(enums.ZProjectionMax, 2, 2)
	defer p.Close()
	assert.Error(t, p.Add(NewImage16(3, 3)))
}

func TestProjectorDeepStack(t *testing.T) {
	for _, mode := range []enums.ZProjection{enums.ZProjectionMax, enums.ZProjectionMin} {
		p, err := NewProjector(mode, 3, 1)
		require.NoError(t, err)
		for z := 0; z < 5; z++ {
			plane := NewImage16(3, 1)
			plane.Pix = []uint16{uint16(z * 1000), uint16(60000 - z), uint16(7)}
			require.NoError(t, p.Add(plane))
		}
		out, err := p.Render()
		require.NoError(t, err)
		if mode == enums.ZProjectionMax {
			assert.Equal(t, []uint16{4000, 60000, 7}, out.Pix)
		} else {
			assert.Equal(t, []uint16{0, 59996, 7}, out.Pix)
		}
		require.NoError(t, p.Close())
	}
}

func TestMaskCircleAndCount(t *testing.T) {
	m := NewMask(11, 11)
	m.FillCircle(5, 5, 5)
	assert.True(t, m.IsSet(5, 0))
	assert.False(t, m.IsSet(0, 0))
	n := m.CountNonZero()
	assert.InDelta(t, 3.14159*25, float64(n), 12)
	assert.True(t, m.Equal(m.Clone()))
}

func TestMatRoundTrip(t *testing.T) {
	img := ramp(5, 4)
	img.Set(4, 3, 65535)
	mat, err := img.ToMat()
	require.NoError(t, err)
	defer mat.Close()

	back, err := FromMat(mat)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, back.Pix)

	m := NewMask(3, 2)
	m.Set(1, 1, 255)
	mm, err := m.ToMat()
	require.NoError(t, err)
	defer mm.Close()
	mb, err := MaskFromMat(mm)
	require.NoError(t, err)
	assert.True(t, m.Equal(mb))
}

func TestIsSupportedFormat(t *testing.T) {
	assert.True(t, IsSupportedFormat("a/b.TIF"))
	assert.True(t, IsSupportedFormat("x.png"))
	assert.False(t, IsSupportedFormat("x.txt"))
	assert.True(t, IsTIFF("x.ome.tiff"))
}
