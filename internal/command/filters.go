package command

import (
	"fmt"
	"image"
	"math"
	"slices"

	"imagec/internal/apperr"
	img "imagec/internal/image"
	"imagec/internal/roi"
	"imagec/internal/settings"

	"gocv.io/x/gocv"
)

var morphTypes = map[settings.MorphFunction]gocv.MorphType{
	settings.MorphErode:    gocv.MorphErode,
	settings.MorphDilate:   gocv.MorphDilate,
	settings.MorphOpen:     gocv.MorphOpen,
	settings.MorphClose:    gocv.MorphClose,
	settings.MorphGradient: gocv.MorphGradient,
	settings.MorphTophat:   gocv.MorphTophat,
	settings.MorphBlackhat: gocv.MorphBlackhat,
	settings.MorphHitmiss:  gocv.MorphHitmiss,
}

var morphShapes = map[settings.KernelShape]gocv.MorphShape{
	settings.ShapeEllipse:   gocv.MorphEllipse,
	settings.ShapeRectangle: gocv.MorphRect,
	settings.ShapeCross:     gocv.MorphCross,
}

// MorphologicalTransform applies erosion, dilation or one of their
// combinations. Hit-or-miss works on the binarised image and keeps the
// gray value of every hit.
type MorphologicalTransform struct {
	settings settings.MorphologicalTransformSettings
}

func (c *MorphologicalTransform) Execute(_ Context, frame *img.Image16, _ roi.ObjectMap) error {
	k := c.settings.KernelSize
	kernel := gocv.GetStructuringElement(morphShapes[c.settings.Shape], image.Pt(k, k))
	defer kernel.Close()

	if c.settings.Function == settings.MorphHitmiss {
		if err := hitMiss(frame, kernel); err != nil {
			return apperr.NewProcessingError("morphological transform", err)
		}
		return nil
	}
	op := morphTypes[c.settings.Function]
	out, err := applyMat(func(src []gocv.Mat, dst *gocv.Mat) {
		gocv.MorphologyEx(src[0], dst, op, kernel)
	}, frame)
	if err != nil {
		return apperr.NewProcessingError("morphological transform", err)
	}
	*frame = *out
	return nil
}

func hitMiss(frame *img.Image16, kernel gocv.Mat) error {
	bin, err := frame.BinaryMat()
	if err != nil {
		return err
	}
	defer bin.Close()
	hits := gocv.NewMat()
	defer hits.Close()
	gocv.MorphologyEx(bin, &hits, gocv.MorphHitmiss, kernel)
	m, err := img.MaskFromMat(hits)
	if err != nil {
		return err
	}
	for i, v := range m.Pix {
		if v == 0 {
			frame.Pix[i] = 0
		}
	}
	return nil
}

// EdgeDetection runs a Sobel operator in x and y and combines both
// gradients.
type EdgeDetection struct {
	settings settings.EdgeDetectionSettings
}

func (c *EdgeDetection) Execute(_ Context, frame *img.Image16, _ roi.ObjectMap) error {
	s := c.settings
	absolute := s.WeightFunction == settings.SobelAbs
	out, err := applyMat(func(src []gocv.Mat, dst *gocv.Mat) {
		gx := sobelAxis(src[0], s.DerivativeOrderX, 0, s.KernelSize, absolute)
		defer gx.Close()
		gy := sobelAxis(src[0], 0, s.DerivativeOrderY, s.KernelSize, absolute)
		defer gy.Close()
		if absolute {
			gocv.AddWeighted(gx, 0.5, gy, 0.5, 0, dst)
			return
		}
		gocv.Magnitude(gx, gy, dst)
	}, frame)
	if err != nil {
		return apperr.NewProcessingError("edge detection", err)
	}
	*frame = *out
	return nil
}

// sobelAxis returns the 32-bit gradient of one axis. An axis without
// derivative contributes zeros.
func sobelAxis(src gocv.Mat, dx, dy, ksize int, absolute bool) gocv.Mat {
	g := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), src.Rows(), src.Cols(), gocv.MatTypeCV32F)
	if dx+dy == 0 {
		return g
	}
	gocv.Sobel(src, &g, gocv.MatTypeCV32F, dx, dy, ksize, 1, 0, gocv.BorderDefault)
	if absolute {
		zero := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), src.Rows(), src.Cols(), gocv.MatTypeCV32F)
		defer zero.Close()
		gocv.AbsDiff(g, zero, &g)
	}
	return g
}

// diskRadii returns the half width of a circular kernel for every row
// offset in [-k, k]. The squared radius is widened by one, so radius 0.5
// yields a 3x3 cross and radius 1 the full 3x3 square.
func diskRadii(radius float64) []int {
	r2 := int(radius*radius) + 1
	k := int(math.Sqrt(float64(r2) + 1e-10))
	out := make([]int, 2*k+1)
	for dy := -k; dy <= k; dy++ {
		out[dy+k] = int(math.Sqrt(float64(r2-dy*dy) + 1e-10))
	}
	return out
}

// diskKernel builds the circular kernel as CV_8UC1 of ones and returns the
// number of set pixels.
func diskKernel(radius float64) (gocv.Mat, int, error) {
	radii := diskRadii(radius)
	size := len(radii)
	k := size / 2
	buf := make([]byte, size*size)
	n := 0
	for row, dx := range radii {
		for x := k - dx; x <= k+dx; x++ {
			buf[row*size+x] = 1
			n++
		}
	}
	m, err := gocv.NewMatFromBytes(size, size, gocv.MatTypeCV8UC1, buf)
	return m, n, err
}

// rankFilter replaces every pixel by a statistic of its circular
// neighbourhood. Borders are replicated.
func rankFilter(in *img.Image16, fn settings.RankFunction, radius float64) (*img.Image16, error) {
	if fn == settings.RankMedian {
		return circularMedian(in, radius), nil
	}
	disk, n, err := diskKernel(radius)
	if err != nil {
		return nil, err
	}
	defer disk.Close()
	weights := gocv.NewMat()
	defer weights.Close()
	disk.ConvertToWithParams(&weights, gocv.MatTypeCV64F, float32(1/float64(n)), 0)
	anchor := image.Pt(-1, -1)

	return applyMat(func(src []gocv.Mat, dst *gocv.Mat) {
		switch fn {
		case settings.RankMin:
			gocv.Erode(src[0], dst, disk)
		case settings.RankMax:
			gocv.Dilate(src[0], dst, disk)
		case settings.RankMean:
			gocv.Filter2D(src[0], dst, gocv.MatTypeCV32F, weights, anchor, 0, gocv.BorderReplicate)
		case settings.RankVariance:
			f := gocv.NewMat()
			defer f.Close()
			src[0].ConvertTo(&f, gocv.MatTypeCV64F)
			sq := gocv.NewMat()
			defer sq.Close()
			gocv.Multiply(f, f, &sq)
			mean := gocv.NewMat()
			defer mean.Close()
			gocv.Filter2D(f, &mean, gocv.MatTypeCV64F, weights, anchor, 0, gocv.BorderReplicate)
			meanSq := gocv.NewMat()
			defer meanSq.Close()
			gocv.Filter2D(sq, &meanSq, gocv.MatTypeCV64F, weights, anchor, 0, gocv.BorderReplicate)
			gocv.Multiply(mean, mean, &mean)
			variance := gocv.NewMat()
			defer variance.Close()
			gocv.Subtract(meanSq, mean, &variance)
			variance.ConvertTo(dst, gocv.MatTypeCV32F)
		}
	}, in)
}

// circularMedian is the median over the disk. OpenCV only offers square
// median kernels.
func circularMedian(in *img.Image16, radius float64) *img.Image16 {
	radii := diskRadii(radius)
	k := len(radii) / 2
	out := img.NewImage16(in.Width, in.Height)
	window := make([]uint16, 0, len(radii)*len(radii))
	for y := 0; y < in.Height; y++ {
		for x := 0; x < in.Width; x++ {
			window = window[:0]
			for row, dx := range radii {
				yy := min(max(y+row-k, 0), in.Height-1)
				for xx := x - dx; xx <= x+dx; xx++ {
					window = append(window, in.Pix[yy*in.Width+min(max(xx, 0), in.Width-1)])
				}
			}
			slices.Sort(window)
			out.Pix[y*in.Width+x] = window[len(window)/2]
		}
	}
	return out
}

// RankFilter runs a circular mean, min, max, variance or median filter.
type RankFilter struct {
	settings settings.RankFilterSettings
}

func (c *RankFilter) Execute(_ Context, frame *img.Image16, _ roi.ObjectMap) error {
	out, err := rankFilter(frame, c.settings.Function, c.settings.Radius)
	if err != nil {
		return apperr.NewProcessingError(fmt.Sprintf("rank filter %s", c.settings.Function), err)
	}
	*frame = *out
	return nil
}

// histogram returns the 65536 bin histogram of frame.
func histogram(frame *img.Image16) ([]float64, error) {
	hist, err := histogramMat(frame)
	if err != nil {
		return nil, err
	}
	defer hist.Close()
	data, err := hist.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out, nil
}

func histogramMat(frame *img.Image16) (gocv.Mat, error) {
	src, err := frame.ToMat()
	if err != nil {
		return gocv.NewMat(), err
	}
	defer src.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	hist := gocv.NewMat()
	gocv.CalcHist([]gocv.Mat{src}, []int{0}, mask, &hist, []int{65536}, []float64{0, 65536}, false)
	if hist.Empty() {
		hist.Close()
		return gocv.NewMat(), errEmptyImage
	}
	return hist, nil
}

// saturatedRange returns the gray values below and above which at most
// saturated/2 percent of the pixels lie.
func saturatedRange(hist []float64, pixels int, saturated float64) (int, int) {
	limit := float64(int(float64(pixels) * saturated / 200))
	lo, count := 0, 0.0
	for ; lo < len(hist)-1; lo++ {
		if count += hist[lo]; count > limit {
			break
		}
	}
	hi := len(hist) - 1
	count = 0
	for ; hi > 0; hi-- {
		if count += hist[hi]; count > limit {
			break
		}
	}
	return lo, hi
}

// equalizeLUT maps gray values by the cumulative square root of the
// histogram, which equalizes less aggressively than the plain cumulative
// histogram.
func equalizeLUT(hist []float64) []uint16 {
	top := len(hist) - 1
	sum := math.Sqrt(hist[0]) + math.Sqrt(hist[top])
	for i := 1; i < top; i++ {
		sum += 2 * math.Sqrt(hist[i])
	}
	lut := make([]uint16, len(hist))
	if sum == 0 {
		return lut
	}
	scale := float64(top) / sum
	sum = 0
	for i := 1; i < top; i++ {
		delta := math.Sqrt(hist[i])
		sum += delta
		lut[i] = uint16(math.Round(sum * scale))
		sum += delta
	}
	lut[top] = uint16(top)
	return lut
}

// EnhanceContrast stretches the histogram so that the configured fraction
// of pixels saturates, or equalizes it.
type EnhanceContrast struct {
	settings settings.EnhanceContrastSettings
}

func (c *EnhanceContrast) Execute(_ Context, frame *img.Image16, _ roi.ObjectMap) error {
	hist, err := histogram(frame)
	if err != nil {
		return apperr.NewProcessingError("enhance contrast", err)
	}
	if c.settings.EqualizeHistogram {
		lut := equalizeLUT(hist)
		for i, v := range frame.Pix {
			frame.Pix[i] = lut[v]
		}
		return nil
	}
	lo, hi := saturatedRange(hist, len(frame.Pix), c.settings.SaturatedPixels)
	if hi <= lo {
		return nil
	}
	for i, v := range frame.Pix {
		p := min(max(int(v), lo), hi)
		if c.settings.Normalize {
			p = (p - lo) * 65535 / (hi - lo)
		}
		frame.Pix[i] = uint16(p)
	}
	return nil
}

// ThresholdAdaptive binarises with thresholds computed from the circular
// neighbourhood of every pixel.
type ThresholdAdaptive struct {
	settings settings.ThresholdAdaptiveSettings
}

func (c *ThresholdAdaptive) Execute(ctx Context, frame *img.Image16, _ roi.ObjectMap) error {
	out := img.NewImage16(frame.Width, frame.Height)
	for _, t := range c.settings.Thresholds {
		if err := ctx.Ctx().Err(); err != nil {
			return err
		}
		hits, err := adaptiveHits(frame, t)
		if err != nil {
			return apperr.NewProcessingError(fmt.Sprintf("adaptive threshold %s", t.Method), err)
		}
		for i, hit := range hits {
			if hit {
				out.Pix[i] = t.ModelClassId
			}
		}
	}
	*frame = *out
	return nil
}

// adaptiveHits reports per pixel whether it belongs to an object.
func adaptiveHits(frame *img.Image16, t settings.AdaptiveThreshold) ([]bool, error) {
	radius := float64(t.Radius)
	hits := make([]bool, len(frame.Pix))
	switch t.Method {
	case settings.AdaptiveBernsen, settings.AdaptiveContrast:
		lo, err := rankFilter(frame, settings.RankMin, radius)
		if err != nil {
			return nil, err
		}
		hi, err := rankFilter(frame, settings.RankMax, radius)
		if err != nil {
			return nil, err
		}
		for i, v := range frame.Pix {
			val, mn, mx := int(v), int(lo.Pix[i]), int(hi.Pix[i])
			if t.Method == settings.AdaptiveContrast {
				hits[i] = val != 0 && abs(mx-val) <= abs(val-mn)
				continue
			}
			mid := (mn + mx) / 2
			if mx-mn < t.ContrastThreshold {
				hits[i] = mid >= 32768
			} else {
				hits[i] = val >= mid
			}
		}
	default:
		fn := settings.RankMean
		if t.Method == settings.AdaptiveMedian {
			fn = settings.RankMedian
		}
		local, err := rankFilter(frame, fn, radius)
		if err != nil {
			return nil, err
		}
		for i, v := range frame.Pix {
			hits[i] = int(v) > int(local.Pix[i])-t.ThresholdOffset
		}
	}
	return hits, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
