// Package detect turns preprocessed images into objects: histogram based
// thresholding, contour segmentation, Hough circles, neural network
// inference and the ordered filter evaluation that assigns classes.
package detect

import (
	"fmt"
	"strings"

	img "imagec/internal/image"
)

// ThresholdMethod selects how the lower threshold is derived from the image.
type ThresholdMethod int

const (
	ThresholdManual ThresholdMethod = iota
	ThresholdLi
	ThresholdOtsu
	ThresholdMinError
	ThresholdTriangle
	ThresholdMoments
	ThresholdHuang
	ThresholdIntermodes
	ThresholdIsoData
	ThresholdMaxEntropy
	ThresholdMean
	ThresholdMinimum
	ThresholdPercentile
	ThresholdRenyiEntropy
	ThresholdShanbhag
	ThresholdYen
)

var thresholdNames = []string{
	"MANUAL", "LI", "OTSU", "MIN_ERROR", "TRIANGLE", "MOMENTS", "HUANG", "INTERMODES",
	"ISODATA", "MAX_ENTROPY", "MEAN", "MINIMUM", "PERCENTILE", "RENYI_ENTROPY", "SHANBHAG", "YEN",
}

var thresholdFuncs = map[ThresholdMethod]func(*Histogram) int{
	ThresholdLi:           thresholdLi,
	ThresholdOtsu:         thresholdOtsu,
	ThresholdMinError:     thresholdMinError,
	ThresholdTriangle:     thresholdTriangle,
	ThresholdMoments:      thresholdMoments,
	ThresholdHuang:        thresholdHuang,
	ThresholdIntermodes:   thresholdIntermodes,
	ThresholdIsoData:      thresholdIsoData,
	ThresholdMaxEntropy:   thresholdMaxEntropy,
	ThresholdMean:         thresholdMean,
	ThresholdMinimum:      thresholdMinimum,
	ThresholdPercentile:   thresholdPercentile,
	ThresholdRenyiEntropy: thresholdRenyiEntropy,
	ThresholdShanbhag:     thresholdShanbhag,
	ThresholdYen:          thresholdYen,
}

func (m ThresholdMethod) String() string {
	if m < 0 || int(m) >= len(thresholdNames) {
		return "UNKNOWN"
	}
	return thresholdNames[m]
}

func (m ThresholdMethod) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *ThresholdMethod) UnmarshalText(text []byte) error {
	s := strings.ToUpper(strings.TrimSpace(string(text)))
	if s == "" || s == "NONE" {
		*m = ThresholdManual
		return nil
	}
	for i, name := range thresholdNames {
		if name == s {
			*m = ThresholdMethod(i)
			return nil
		}
	}
	return fmt.Errorf("unknown threshold method %q", string(text))
}

// ThresholdLimits are the user configured bounds of a threshold step.
type ThresholdLimits struct {
	Min uint16 `json:"thresholdMin"`
	Max uint16 `json:"thresholdMax"`
}

// ScaledHistogram maps the value range [min, max] of the image linearly to
// 256 bins and counts the pixels. It returns the histogram and the range.
func ScaledHistogram(image *img.Image16) (*Histogram, uint16, uint16) {
	var h Histogram
	lo, hi := image.MinMax()
	scale := 256.0 / (float64(hi) - float64(lo) + 1)
	for _, v := range image.Pix {
		bin := int(float64(v-lo)*scale + 0.5)
		if bin > 255 {
			bin = 255
		}
		h[bin]++
	}
	return &h, lo, hi
}

// CalcThreshold runs method on the histogram and returns the bin, or -1 if
// the method found none.
func CalcThreshold(method ThresholdMethod, h *Histogram) int {
	fn, ok := thresholdFuncs[method]
	if !ok {
		return -1
	}
	return fn(h)
}

// scaleBack maps an 8-bit bin back to the 16-bit range of the image.
func scaleBack(bin int, lo, hi uint16) uint16 {
	if hi <= lo {
		return lo
	}
	if bin >= 255 {
		return 65535
	}
	v := float64(lo) + (float64(bin)/255)*float64(hi-lo)
	if v > 65535 {
		return 65535
	}
	return uint16(v)
}

// AutoThreshold computes the applied lower and upper threshold. Manual mode
// uses the configured minimum. Automatic methods compute a threshold on the
// scaled histogram and are clamped to the configured limits.
func AutoThreshold(image *img.Image16, method ThresholdMethod, limits ThresholdLimits) (uint16, uint16) {
	if method == ThresholdManual || image.Empty() {
		return limits.Min, limits.Max
	}
	h, lo, hi := ScaledHistogram(image)
	bin := CalcThreshold(method, h)
	if bin < 0 {
		bin = 0
	}
	thr := scaleBack(bin+1, lo, hi)
	return min(max(limits.Min, thr), limits.Max), limits.Max
}

// Binarize returns an image that is 65535 where lower < v <= upper and 0
// elsewhere.
func Binarize(image *img.Image16, lower, upper uint16) *img.Image16 {
	out := img.NewImage16(image.Width, image.Height)
	BinarizeInto(out, image, lower, upper, 65535)
	return out
}

// BinarizeInto sets dst to value where lower < src <= upper and leaves the
// other pixels untouched. Both images must have the same size.
func BinarizeInto(dst, src *img.Image16, lower, upper, value uint16) {
	for i, v := range src.Pix {
		if v > lower && v <= upper {
			dst.Pix[i] = value
		}
	}
}
