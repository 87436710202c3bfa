package colorutil

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHSVRoundTrip(t *testing.T) {
	for _, c := range []color.RGBA{Cyan, Magenta, Yellow, {R: 200, G: 40, B: 90, A: 255}} {
		h, s, v := RGBToHSV(float64(c.R), float64(c.G), float64(c.B))
		r, g, b := HSVToRGB(h, s, v)
		assert.InDelta(t, float64(c.R), r, 0.5)
		assert.InDelta(t, float64(c.G), g, 0.5)
		assert.InDelta(t, float64(c.B), b, 0.5)
	}
}

func TestParseHex(t *testing.T) {
	c, err := ParseHex("#FF8000")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, G: 128, B: 0, A: 255}, c)

	c, err = ParseHex("00ff0080")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0, G: 255, B: 0, A: 128}, c)

	_, err = ParseHex("#12345")
	assert.Error(t, err)
	_, err = ParseHex("#GGGGGG")
	assert.Error(t, err)
}

func TestPalette(t *testing.T) {
	p := Palette{1: White}
	assert.Equal(t, White, p.Color(1))
	assert.Equal(t, ClassColor(2), p.Color(2))
	assert.NotEqual(t, ClassColor(2), ClassColor(3))
	assert.Equal(t, uint8(255), ClassColor(7).A)
}
