package command

import (
	"math"

	"imagec/internal/apperr"
	img "imagec/internal/image"
	"imagec/internal/roi"
	"imagec/internal/settings"
)

// RollingBall subtracts the background estimated by rolling a ball, or
// sliding a paraboloid, under the intensity landscape.
type RollingBall struct {
	settings settings.RollingBallSettings
}

func (c *RollingBall) Execute(_ Context, frame *img.Image16, _ roi.ObjectMap) error {
	if frame.Empty() {
		return apperr.NewProcessingError("rolling ball", errEmptyImage)
	}
	bg := newFloatPlane(frame)
	radius := float64(c.settings.BallSize)
	switch c.settings.BallType {
	case settings.BallTypeParaboloid:
		bg.slidingParaboloid(radius, true, true)
	default:
		bg.rollingBall(radius, true)
	}
	for i, v := range frame.Pix {
		val := float32(v) - bg.pix[i] + 0.5
		frame.Pix[i] = uint16(min(max(val, 0), 65535))
	}
	return nil
}

// floatPlane is a float32 work copy used for background estimation.
type floatPlane struct {
	w, h int
	pix  []float32
}

func newFloatPlane(in *img.Image16) *floatPlane {
	fp := &floatPlane{w: in.Width, h: in.Height, pix: make([]float32, len(in.Pix))}
	for i, v := range in.Pix {
		fp.pix[i] = float32(v)
	}
	return fp
}

// ballPatch is the top cap of the ball, scaled down by shrink.
type ballPatch struct {
	z      []float32
	width  int
	shrink int
}

func newBallPatch(radius float64) *ballPatch {
	var shrink, trimPercent int
	switch {
	case radius <= 10:
		shrink, trimPercent = 1, 24
	case radius <= 30:
		shrink, trimPercent = 2, 24
	case radius <= 100:
		shrink, trimPercent = 4, 32
	default:
		shrink, trimPercent = 8, 40
	}
	small := max(radius/float64(shrink), 1)
	rsq := small * small
	trim := int(float64(trimPercent) * small / 100)
	half := int(math.Round(small - float64(trim)))
	width := 2*half + 1

	b := &ballPatch{z: make([]float32, width*width), width: width, shrink: shrink}
	for y, p := 0, 0; y < width; y++ {
		for x := 0; x < width; x, p = x+1, p+1 {
			dx, dy := float64(x-half), float64(y-half)
			if t := rsq - dx*dx - dy*dy; t > 0 {
				b.z[p] = float32(math.Sqrt(t))
			}
		}
	}
	return b
}

// rollingBall replaces the plane by its background. Large balls run on a
// block-minimum shrunken copy which is interpolated back afterwards.
func (fp *floatPlane) rollingBall(radius float64, presmooth bool) {
	ball := newBallPatch(radius)
	if presmooth {
		fp.filter3x3(filterMean)
	}
	if ball.shrink == 1 {
		fp.rollBall(ball)
		return
	}
	small := fp.shrink(ball.shrink)
	small.rollBall(ball)
	fp.enlarge(small, ball.shrink)
}

func (fp *floatPlane) rollBall(ball *ballPatch) {
	w, h, pix := fp.w, fp.h, fp.pix
	bw := ball.width
	r := bw / 2
	cache := make([]float32, w*bw)

	for y := -r; y < h+r; y++ {
		if next := y + r; next < h {
			line := (next % bw) * w
			copy(cache[line:line+w], pix[next*w:(next+1)*w])
			for i := next * w; i < (next+1)*w; i++ {
				pix[i] = -math.MaxFloat32
			}
		}
		y0 := max(y-r, 0)
		yBall0 := y0 - y + r
		yEnd := min(y+r, h-1)
		for x := -r; x < w+r; x++ {
			z := float32(math.MaxFloat32)
			x0 := max(x-r, 0)
			xBall0 := x0 - x + r
			xEnd := min(x+r, w-1)
			for yp, yb := y0, yBall0; yp <= yEnd; yp, yb = yp+1, yb+1 {
				cp := (yp%bw)*w + x0
				bp := xBall0 + yb*bw
				for xp := x0; xp <= xEnd; xp, cp, bp = xp+1, cp+1, bp+1 {
					if reduced := cache[cp] - ball.z[bp]; reduced < z {
						z = reduced
					}
				}
			}
			for yp, yb := y0, yBall0; yp <= yEnd; yp, yb = yp+1, yb+1 {
				p := yp*w + x0
				bp := xBall0 + yb*bw
				for xp := x0; xp <= xEnd; xp, p, bp = xp+1, p+1, bp+1 {
					if surface := z + ball.z[bp]; pix[p] < surface {
						pix[p] = surface
					}
				}
			}
		}
	}
}

// shrink returns a copy where every pixel is the minimum of an s x s block.
func (fp *floatPlane) shrink(s int) *floatPlane {
	sw, sh := (fp.w+s-1)/s, (fp.h+s-1)/s
	out := &floatPlane{w: sw, h: sh, pix: make([]float32, sw*sh)}
	for ys := 0; ys < sh; ys++ {
		for xs := 0; xs < sw; xs++ {
			m := float32(math.MaxFloat32)
			for y := ys * s; y < min(ys*s+s, fp.h); y++ {
				for x := xs * s; x < min(xs*s+s, fp.w); x++ {
					m = min(m, fp.pix[y*fp.w+x])
				}
			}
			out.pix[ys*sw+xs] = m
		}
	}
	return out
}

// enlarge bilinearly interpolates small back to the size of fp.
func (fp *floatPlane) enlarge(small *floatPlane, s int) {
	xIdx, xWeight := interpolationArrays(fp.w, small.w, s)
	yIdx, yWeight := interpolationArrays(fp.h, small.h, s)
	line0 := make([]float32, fp.w)
	line1 := make([]float32, fp.w)
	interpolate := func(dst []float32, sy int) {
		row := small.pix[sy*small.w : (sy+1)*small.w]
		for x := range dst {
			i := xIdx[x]
			dst[x] = row[i]*xWeight[x] + row[min(i+1, small.w-1)]*(1-xWeight[x])
		}
	}

	interpolate(line1, 0)
	line0At := -1
	for y := 0; y < fp.h; y++ {
		if line0At < yIdx[y] {
			line0, line1 = line1, line0
			line0At++
			interpolate(line1, min(yIdx[y]+1, small.h-1))
		}
		wt := yWeight[y]
		row := fp.pix[y*fp.w : (y+1)*fp.w]
		for x := range row {
			row[x] = line0[x]*wt + line1[x]*(1-wt)
		}
	}
}

// interpolationArrays returns, for every full resolution pixel, the left
// small pixel to interpolate from and its weight.
func interpolationArrays(length, smallLength, s int) ([]int, []float32) {
	idx := make([]int, length)
	weights := make([]float32, length)
	for i := range idx {
		si := (i - s/2) / s
		if si >= smallLength-1 {
			si = smallLength - 2
		}
		si = max(si, 0)
		idx[i] = si
		distance := (float32(i)+0.5)/float32(s) - (float32(si) + 0.5)
		weights[i] = 1 - distance
	}
	return idx, weights
}

const (
	filterMean = iota
	filterMax
)

// filter3x3 runs a separable 3x3 mean or maximum. For the maximum it returns
// the average amount the pixels were raised by.
func (fp *floatPlane) filter3x3(kind int) float64 {
	var shift float64
	for y := 0; y < fp.h; y++ {
		shift += fp.filter3(fp.w, y*fp.w, 1, kind)
	}
	for x := 0; x < fp.w; x++ {
		shift += fp.filter3(fp.h, x, fp.w, kind)
	}
	return shift / float64(fp.w) / float64(fp.h)
}

func (fp *floatPlane) filter3(length, p0, inc, kind int) float64 {
	var shift, v1 float64
	v3 := float64(fp.pix[p0])
	v2 := v3
	for i, p := 0, p0; i < length; i, p = i+1, p+inc {
		v1, v2 = v2, v3
		if i < length-1 {
			v3 = float64(fp.pix[p+inc])
		}
		if kind == filterMax {
			m := max(v1, v2, v3)
			shift += m - v2
			fp.pix[p] = float32(m)
		} else {
			fp.pix[p] = float32((v1 + v2 + v3) * 0.33333333)
		}
	}
	return shift
}

type slideDirection int

const (
	slideX slideDirection = iota
	slideY
	slideDiagonal1A
	slideDiagonal1B
	slideDiagonal2A
	slideDiagonal2B
)

// slidingParaboloid replaces the plane by the background reached by a
// paraboloid of curvature 1/radius slid along rows, columns and diagonals.
func (fp *floatPlane) slidingParaboloid(radius float64, presmooth, correctCorners bool) {
	n := max(fp.w, fp.h)
	cache := make([]float32, n)
	next := make([]int, n)
	coeff2 := float32(0.5 / radius)
	coeff2Diag := float32(1 / radius)

	var shift float32
	if presmooth {
		shift = float32(fp.filter3x3(filterMax))
		fp.filter3x3(filterMean)
	}
	if correctCorners && fp.w >= 3 && fp.h >= 3 {
		fp.correctCorners(coeff2, cache, next)
	}

	fp.filter1D(slideX, coeff2, cache, next)
	fp.filter1D(slideY, coeff2, cache, next)
	fp.filter1D(slideX, coeff2, cache, next)
	fp.filter1D(slideDiagonal1A, coeff2Diag, cache, next)
	fp.filter1D(slideDiagonal1B, coeff2Diag, cache, next)
	fp.filter1D(slideDiagonal2A, coeff2Diag, cache, next)
	fp.filter1D(slideDiagonal2B, coeff2Diag, cache, next)
	fp.filter1D(slideDiagonal1A, coeff2Diag, cache, next)
	fp.filter1D(slideDiagonal1B, coeff2Diag, cache, next)

	if presmooth {
		for i := range fp.pix {
			fp.pix[i] -= shift
		}
	}
}

// filter1D slides the parabola along all lines of one direction. Diagonals
// are split in two halves.
func (fp *floatPlane) filter1D(dir slideDirection, coeff2 float32, cache []float32, next []int) {
	w, h := fp.w, fp.h
	var startLine, nLines, lineInc, pointInc, length int
	switch dir {
	case slideX:
		nLines, lineInc, pointInc, length = h, w, 1, w
	case slideY:
		nLines, lineInc, pointInc, length = w, 1, w, h
	case slideDiagonal1A:
		nLines, lineInc, pointInc = w-2, 1, w+1
	case slideDiagonal1B:
		startLine, nLines, lineInc, pointInc = 1, h-2, w, w+1
	case slideDiagonal2A:
		startLine, nLines, lineInc, pointInc = 2, w, 1, w-1
	case slideDiagonal2B:
		nLines, lineInc, pointInc = h-2, w, w-1
	}
	for i := startLine; i < nLines; i++ {
		start := i * lineInc
		switch dir {
		case slideDiagonal1A:
			length = min(h, w-i)
		case slideDiagonal1B:
			length = min(w, h-i)
		case slideDiagonal2A:
			length = min(h, i+1)
		case slideDiagonal2B:
			start += w - 1
			length = min(w, h-i)
		}
		fp.lineSlideParabola(start, pointInc, length, coeff2, cache, next, nil)
	}
}

// lineSlideParabola slides a downward parabola along one line from below and
// lifts every point it cannot reach onto the parabola. With edges set it
// also estimates both end values as they would be without edge particles.
func (fp *floatPlane) lineSlideParabola(start, inc, length int, coeff2 float32, cache []float32, next []int, edges *[2]float32) {
	if length < 1 {
		return
	}
	pix := fp.pix
	minValue := float32(math.MaxFloat32)
	last := 0
	firstCorner, lastCorner := length-1, 0
	var prev1, prev2 float32
	curvatureTest := 1.999 * coeff2

	// Only points with enough local curvature can be touched.
	for i, p := 0, start; i < length; i, p = i+1, p+inc {
		v := pix[p]
		cache[i] = v
		minValue = min(minValue, v)
		if i >= 2 && prev1+prev1-prev2-v < curvatureTest {
			next[last] = i - 1
			last = i - 1
		}
		prev2, prev1 = prev1, v
	}
	next[last] = length - 1
	next[length-1] = math.MaxInt

	for i1 := 0; i1 < length-1; {
		v1 := cache[i1]
		minSlope := float32(math.MaxFloat32)
		i2 := 0
		searchTo := length
		recalc := 0
		for j := next[i1]; j < searchTo; j, recalc = next[j], recalc+1 {
			slope := (cache[j]-v1)/float32(j-i1) + coeff2*float32(j-i1)
			if slope < minSlope {
				minSlope = slope
				i2 = j
				recalc = -3
			}
			if recalc == 0 {
				b := float64(0.5 * minSlope / coeff2)
				maxSearch := i1 + int(b+math.Sqrt(b*b+float64((v1-minValue)/coeff2))+1)
				if maxSearch < searchTo && maxSearch > 0 {
					searchTo = maxSearch
				}
			}
		}
		if i1 == 0 {
			firstCorner = i2
		}
		if i2 == length-1 {
			lastCorner = i1
		}
		for j, p := i1+1, start+(i1+1)*inc; j < i2; j, p = j+1, p+inc {
			d := float32(j - i1)
			pix[p] = v1 + d*(minSlope-d*coeff2)
		}
		i1 = i2
	}

	if edges == nil {
		return
	}
	// Edge particles must be smaller than a quarter of the line.
	if 4*firstCorner >= length {
		firstCorner = 0
	}
	if 4*(length-1-lastCorner) >= length {
		lastCorner = length - 1
	}
	v1, v2 := cache[firstCorner], cache[lastCorner]
	span := float32(lastCorner - firstCorner)
	slope := (v2 - v1) / span
	value0 := v1 - slope*float32(firstCorner)
	var coeff6 float32
	mid := 0.5 * float32(lastCorner+firstCorner)
	for i := (length + 2) / 3; i <= (2*length)/3; i++ {
		dx := (float32(i) - mid) * 2 / span
		poly6 := pow6(dx) - 1
		if cache[i] < value0+slope*float32(i)+coeff6*poly6 {
			coeff6 = -(value0 + slope*float32(i) - cache[i]) / poly6
		}
	}
	dx := (float32(firstCorner) - mid) * 2 / span
	edges[0] = value0 + coeff6*(pow6(dx)-1) + coeff2*float32(firstCorner*firstCorner)
	dx = (float32(lastCorner) - mid) * 2 / span
	tail := float32(length - 1 - lastCorner)
	edges[1] = value0 + float32(length-1)*slope + coeff6*(pow6(dx)-1) + coeff2*tail*tail
}

func pow6(x float32) float32 {
	x2 := x * x
	return x2 * x2 * x2
}

// correctCorners lowers corner pixels covered by a particle to the average
// of the estimates along both edges and the diagonal.
func (fp *floatPlane) correctCorners(coeff2 float32, cache []float32, next []int) {
	w, h, pix := fp.w, fp.h, fp.pix
	var corners [4]float32
	var e [2]float32

	fp.lineSlideParabola(0, 1, w, coeff2, cache, next, &e)
	corners[0], corners[1] = e[0], e[1]
	fp.lineSlideParabola((h-1)*w, 1, w, coeff2, cache, next, &e)
	corners[2], corners[3] = e[0], e[1]
	fp.lineSlideParabola(0, w, h, coeff2, cache, next, &e)
	corners[0] += e[0]
	corners[2] += e[1]
	fp.lineSlideParabola(w-1, w, h, coeff2, cache, next, &e)
	corners[1] += e[0]
	corners[3] += e[1]

	diag := min(w, h)
	coeff2Diag := 2 * coeff2
	fp.lineSlideParabola(0, 1+w, diag, coeff2Diag, cache, next, &e)
	corners[0] += e[0]
	fp.lineSlideParabola(w-1, w-1, diag, coeff2Diag, cache, next, &e)
	corners[1] += e[0]
	fp.lineSlideParabola((h-1)*w, 1-w, diag, coeff2Diag, cache, next, &e)
	corners[2] += e[0]
	fp.lineSlideParabola(w*h-1, -1-w, diag, coeff2Diag, cache, next, &e)
	corners[3] += e[0]

	for i, p := range []int{0, w - 1, (h - 1) * w, w*h - 1} {
		pix[p] = min(pix[p], corners[i]/3)
	}
}
