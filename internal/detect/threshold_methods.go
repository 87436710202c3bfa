package detect

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Histogram is the 256 bin histogram of an 8-bit scaled image.
type Histogram [256]float64

const dblEpsilon = 2.220446049250313e-16

func (h *Histogram) total() float64 {
	return floats.Sum(h[:])
}

func (h *Histogram) normalized() (norm, p1, p2 [256]float64) {
	total := h.total()
	for i := range h {
		norm[i] = h[i] / total
	}
	p1[0] = norm[0]
	p2[0] = 1 - p1[0]
	for i := 1; i < 256; i++ {
		p1[i] = p1[i-1] + norm[i]
		p2[i] = 1 - p1[i]
	}
	return norm, p1, p2
}

// firstLastBin returns the first and last bin where the cumulative
// histograms are not zero.
func firstLastBin(p1, p2 *[256]float64) (int, int) {
	first := 0
	for i := 0; i < 256; i++ {
		if math.Abs(p1[i]) >= dblEpsilon {
			first = i
			break
		}
	}
	last := 255
	for i := 255; i >= first; i-- {
		if math.Abs(p2[i]) >= dblEpsilon {
			last = i
			break
		}
	}
	return first, last
}

// thresholdLi implements Li's minimum cross entropy method.
func thresholdLi(h *Histogram) int {
	const tolerance = 0.5
	numPixels := h.total()
	mean := 0.0
	for i := 1; i < 256; i++ {
		mean += float64(i) * h[i]
	}
	mean /= numPixels

	threshold := 0
	newThresh := mean
	for iter := 0; iter < 1000; iter++ {
		oldThresh := newThresh
		threshold = int(oldThresh + 0.5)

		var sumBack, numBack float64
		for i := 0; i <= threshold; i++ {
			sumBack += float64(i) * h[i]
			numBack += h[i]
		}
		meanBack := 0.0
		if numBack != 0 {
			meanBack = sumBack / numBack
		}

		var sumObj, numObj float64
		for i := threshold + 1; i < 256; i++ {
			sumObj += float64(i) * h[i]
			numObj += h[i]
		}
		meanObj := 0.0
		if numObj != 0 {
			meanObj = sumObj / numObj
		}

		temp := (meanBack - meanObj) / (math.Log(meanBack) - math.Log(meanObj))
		if temp < -dblEpsilon {
			newThresh = float64(int(temp - 0.5))
		} else {
			newThresh = float64(int(temp + 0.5))
		}
		if math.IsNaN(temp) || math.Abs(newThresh-oldThresh) <= tolerance {
			break
		}
	}
	return threshold
}

// thresholdMean returns the mean gray value.
func thresholdMean(h *Histogram) int {
	var tot, sum float64
	for i := range h {
		tot += h[i]
		sum += float64(i) * h[i]
	}
	if tot == 0 {
		return 0
	}
	return int(math.Floor(sum / tot))
}

// thresholdMinError implements the iterative minimum error method of
// Kittler and Illingworth, starting at the mean.
func thresholdMinError(h *Histogram) int {
	partA := func(j int) float64 {
		x := 0.0
		for i := 0; i <= j; i++ {
			x += h[i]
		}
		return x
	}
	partB := func(j int) float64 {
		x := 0.0
		for i := 0; i <= j; i++ {
			x += float64(i) * h[i]
		}
		return x
	}
	partC := func(j int) float64 {
		x := 0.0
		for i := 0; i <= j; i++ {
			x += float64(i) * float64(i) * h[i]
		}
		return x
	}

	threshold := float64(thresholdMean(h))
	prev := -2.0
	const last = 255
	for iter := 0; threshold != prev && iter < 10000; iter++ {
		t := int(threshold)
		aT, aL := partA(t), partA(last)
		bT, bL := partB(t), partB(last)
		cT, cL := partC(t), partC(last)

		mu := bT / aT
		nu := (bL - bT) / (aL - aT)
		p := aT / aL
		q := (aL - aT) / aL
		sigma2 := cT/aT - mu*mu
		tau2 := (cL-cT)/(aL-aT) - nu*nu

		w0 := 1/sigma2 - 1/tau2
		w1 := mu/sigma2 - nu/tau2
		w2 := mu*mu/sigma2 - nu*nu/tau2 + math.Log10((sigma2*q*q)/(tau2*p*p))

		sqterm := w1*w1 - w0*w2
		if sqterm < 0 {
			break
		}
		prev = threshold
		temp := (w1 + math.Sqrt(sqterm)) / w0
		if math.IsNaN(temp) || temp < 0 || temp > last {
			threshold = prev
		} else {
			threshold = math.Floor(temp)
		}
	}
	return int(threshold)
}

// thresholdTriangle implements Zack's triangle method, choosing the side of
// the peak the data extends furthest to.
func thresholdTriangle(in *Histogram) int {
	h := *in
	lo, hi, peak := 0, 0, 0
	for i := 0; i < 256; i++ {
		if h[i] > 0 {
			lo = i
			break
		}
	}
	if lo > 0 {
		lo--
	}
	for i := 255; i > 0; i-- {
		if h[i] > 0 {
			hi = i
			break
		}
	}
	if hi < 255 {
		hi++
	}
	dmax := 0.0
	for i := 0; i < 256; i++ {
		if h[i] > dmax {
			peak = i
			dmax = h[i]
		}
	}

	inverted := false
	if peak-lo < hi-peak {
		inverted = true
		for l, r := 0, 255; l < r; l, r = l+1, r-1 {
			h[l], h[r] = h[r], h[l]
		}
		lo = 255 - hi
		peak = 255 - peak
	}
	if lo == peak {
		return lo
	}

	nx := h[peak]
	ny := float64(lo - peak)
	d := math.Sqrt(nx*nx + ny*ny)
	nx /= d
	ny /= d
	d = nx*float64(lo) + ny*h[lo]

	split := lo
	splitDistance := 0.0
	for i := lo + 1; i <= peak; i++ {
		dist := nx*float64(i) + ny*h[i] - d
		if dist > splitDistance {
			split = i
			splitDistance = dist
		}
	}
	split--
	if inverted {
		return 255 - split
	}
	return split
}

// thresholdRenyiEntropy combines three entropy thresholds (alpha 0.5, 1 and 2).
func thresholdRenyiEntropy(h *Histogram) int {
	norm, p1, p2 := h.normalized()
	first, last := firstLastBin(&p1, &p2)

	threshold, maxEnt := 0, 0.0
	for it := first; it <= last; it++ {
		entBack := 0.0
		for ih := 0; ih <= it; ih++ {
			if h[ih] != 0 {
				entBack -= (norm[ih] / p1[it]) * math.Log(norm[ih]/p1[it])
			}
		}
		entObj := 0.0
		for ih := it + 1; ih < 256; ih++ {
			if h[ih] != 0 {
				entObj -= (norm[ih] / p2[it]) * math.Log(norm[ih]/p2[it])
			}
		}
		if tot := entBack + entObj; maxEnt < tot {
			maxEnt = tot
			threshold = it
		}
	}
	tStar2 := threshold

	renyi := func(alpha float64, term func(n, p float64) float64) int {
		best, bestEnt := 0, 0.0
		for it := first; it <= last; it++ {
			entBack := 0.0
			for ih := 0; ih <= it; ih++ {
				entBack += term(norm[ih], p1[it])
			}
			entObj := 0.0
			for ih := it + 1; ih < 256; ih++ {
				entObj += term(norm[ih], p2[it])
			}
			tot := 0.0
			if entBack*entObj > 0 {
				tot = math.Log(entBack*entObj) / (1 - alpha)
			}
			if tot > bestEnt {
				bestEnt = tot
				best = it
			}
		}
		return best
	}
	tStar1 := renyi(0.5, func(n, p float64) float64 { return math.Sqrt(n / p) })
	tStar3 := renyi(2, func(n, p float64) float64 { return (n * n) / (p * p) })

	if tStar2 < tStar1 {
		tStar1, tStar2 = tStar2, tStar1
	}
	if tStar3 < tStar2 {
		tStar2, tStar3 = tStar3, tStar2
	}
	if tStar2 < tStar1 {
		tStar1, tStar2 = tStar2, tStar1
	}

	var beta1, beta2, beta3 float64
	switch {
	case abs(tStar1-tStar2) <= 5 && abs(tStar2-tStar3) <= 5:
		beta1, beta2, beta3 = 1, 2, 1
	case abs(tStar1-tStar2) <= 5:
		beta1, beta2, beta3 = 0, 1, 3
	case abs(tStar2-tStar3) <= 5:
		beta1, beta2, beta3 = 3, 1, 0
	default:
		beta1, beta2, beta3 = 1, 2, 1
	}

	omega := p1[tStar3] - p1[tStar1]
	return int(float64(tStar1)*(p1[tStar1]+0.25*omega*beta1) +
		0.25*float64(tStar2)*omega*beta2 +
		float64(tStar3)*(p2[tStar3]+0.25*omega*beta3))
}

// thresholdOtsu maximises the between class variance.
func thresholdOtsu(h *Histogram) int {
	n := h.total()
	s := 0.0
	for k := range h {
		s += float64(k) * h[k]
	}
	sk := 0.0
	n1 := h[0]
	bcvMax := 0.0
	kStar := 0
	for k := 1; k < 255; k++ {
		sk += float64(k) * h[k]
		n1 += h[k]
		bcv := 0.0
		if denom := n1 * (n - n1); denom != 0 {
			num := (n1/n)*s - sk
			bcv = (num * num) / denom
		}
		if bcv >= bcvMax {
			bcvMax = bcv
			kStar = k
		}
	}
	return kStar
}

// thresholdMoments implements Tsai's moment preserving method.
func thresholdMoments(h *Histogram) int {
	total := h.total()
	var hist [256]float64
	for i := range h {
		hist[i] = h[i] / total
	}
	m0, m1, m2, m3 := 1.0, 0.0, 0.0, 0.0
	for i := range hist {
		di := float64(i)
		m1 += di * hist[i]
		m2 += di * di * hist[i]
		m3 += di * di * di * hist[i]
	}
	cd := m0*m2 - m1*m1
	c0 := (-m2*m2 + m1*m3) / cd
	c1 := (m0*-m3 + m2*m1) / cd
	z0 := 0.5 * (-c1 - math.Sqrt(c1*c1-4*c0))
	z1 := 0.5 * (-c1 + math.Sqrt(c1*c1-4*c0))
	p0 := (z1 - m1) / (z1 - z0)

	sum := 0.0
	for i := range hist {
		sum += hist[i]
		if sum > p0 {
			return i
		}
	}
	return -1
}

// thresholdHuang minimises the fuzzy entropy of the histogram.
func thresholdHuang(h *Histogram) int {
	first := 0
	for i := 0; i < 256; i++ {
		if h[i] != 0 {
			first = i
			break
		}
	}
	last := 255
	for i := 255; i >= first; i-- {
		if h[i] != 0 {
			last = i
			break
		}
	}
	if first == last {
		return first
	}
	term := 1 / float64(last-first)

	var mu0, mu1 [256]float64
	sumPix, numPix := 0.0, 0.0
	for i := first; i < 256; i++ {
		sumPix += float64(i) * h[i]
		numPix += h[i]
		mu0[i] = sumPix / numPix
	}
	sumPix, numPix = 0, 0
	for i := last; i > 0; i-- {
		sumPix += float64(i) * h[i]
		numPix += h[i]
		mu1[i-1] = sumPix / numPix
	}

	entropy := func(muX float64) float64 {
		if muX < 1e-06 || muX > 0.999999 {
			return 0
		}
		return -muX*math.Log(muX) - (1-muX)*math.Log(1-muX)
	}

	threshold := -1
	minEnt := math.MaxFloat64
	for it := 0; it < 256; it++ {
		ent := 0.0
		for ih := 0; ih <= it; ih++ {
			ent += h[ih] * entropy(1/(1+term*math.Abs(float64(ih)-mu0[it])))
		}
		for ih := it + 1; ih < 256; ih++ {
			ent += h[ih] * entropy(1/(1+term*math.Abs(float64(ih)-mu1[it])))
		}
		if ent < minEnt {
			minEnt = ent
			threshold = it
		}
	}
	return threshold
}

func bimodal(y []float64) bool {
	modes := 0
	for k := 1; k < len(y)-1; k++ {
		if y[k-1] < y[k] && y[k+1] < y[k] {
			modes++
			if modes > 2 {
				return false
			}
		}
	}
	return modes == 2
}

// thresholdIntermodes smooths the histogram until it is bimodal and returns
// the midpoint of both peaks.
func thresholdIntermodes(h *Histogram) int {
	hist := make([]float64, 256)
	copy(hist, h[:])
	for iter := 0; !bimodal(hist); iter++ {
		if iter > 10000 {
			return -1
		}
		previous, current, next := 0.0, 0.0, hist[0]
		for i := 0; i < 255; i++ {
			previous = current
			current = next
			next = hist[i+1]
			hist[i] = (previous + current + next) / 3
		}
		hist[255] = (current + next) / 3
	}
	tt := 0
	for i := 1; i < 255; i++ {
		if hist[i-1] < hist[i] && hist[i+1] < hist[i] {
			tt += i
		}
	}
	return int(math.Floor(float64(tt) / 2))
}

// thresholdMinimum smooths the histogram until it is bimodal and returns
// the valley between both peaks.
func thresholdMinimum(h *Histogram) int {
	hist := make([]float64, 256)
	maxBin := -1
	for i := range h {
		hist[i] = h[i]
		if h[i] > 0 {
			maxBin = i
		}
	}
	tmp := make([]float64, 256)
	for iter := 0; !bimodal(hist); iter++ {
		if iter > 10000 {
			return -1
		}
		for i := 1; i < 255; i++ {
			tmp[i] = (hist[i-1] + hist[i] + hist[i+1]) / 3
		}
		tmp[0] = (hist[0] + hist[1]) / 3
		tmp[255] = (hist[254] + hist[255]) / 3
		copy(hist, tmp)
	}
	for i := 1; i < maxBin; i++ {
		if hist[i-1] > hist[i] && hist[i+1] >= hist[i] {
			return i
		}
	}
	return -1
}

// thresholdIsoData is the iterative intermeans method.
func thresholdIsoData(h *Histogram) int {
	g := 0
	for i := 1; i < 256; i++ {
		if h[i] > 0 {
			g = i + 1
			break
		}
	}
	for {
		var l, totl float64
		for i := 0; i < g+1 && i < 256; i++ {
			totl += h[i]
			l += h[i] * float64(i)
		}
		var hi, toth float64
		for i := g + 1; i < 256; i++ {
			toth += h[i]
			hi += h[i] * float64(i)
		}
		if totl > 0 && toth > 0 {
			l = math.Floor(l / totl)
			hi = math.Floor(hi / toth)
			if float64(g) == math.Floor((l+hi)/2+0.5) {
				return g
			}
		}
		g++
		if g > 254 {
			return -1
		}
	}
}

// thresholdMaxEntropy implements Kapur's maximum entropy method.
func thresholdMaxEntropy(h *Histogram) int {
	norm, p1, p2 := h.normalized()
	first, last := firstLastBin(&p1, &p2)

	threshold := -1
	maxEnt := math.SmallestNonzeroFloat64
	for it := first; it <= last; it++ {
		entBack := 0.0
		for ih := 0; ih <= it; ih++ {
			if h[ih] != 0 {
				entBack -= (norm[ih] / p1[it]) * math.Log(norm[ih]/p1[it])
			}
		}
		entObj := 0.0
		for ih := it + 1; ih < 256; ih++ {
			if h[ih] != 0 {
				entObj -= (norm[ih] / p2[it]) * math.Log(norm[ih]/p2[it])
			}
		}
		if tot := entBack + entObj; maxEnt < tot {
			maxEnt = tot
			threshold = it
		}
	}
	return threshold
}

// thresholdPercentile returns the bin closest to 50% of the pixels.
func thresholdPercentile(h *Histogram) int {
	const ptile = 0.5
	total := h.total()
	threshold := -1
	best := 1.0
	partial := 0.0
	for i := range h {
		partial += h[i]
		if d := math.Abs(partial/total - ptile); d < best {
			best = d
			threshold = i
		}
	}
	return threshold
}

// thresholdShanbhag is the fuzzy entropy variant of Kapur's method.
func thresholdShanbhag(h *Histogram) int {
	norm, p1, p2 := h.normalized()
	first, last := firstLastBin(&p1, &p2)

	threshold := -1
	minEnt := math.MaxFloat64
	for it := first; it <= last; it++ {
		entBack := 0.0
		term := 0.5 / p1[it]
		for ih := 1; ih <= it; ih++ {
			entBack -= norm[ih] * math.Log(1-term*p1[ih-1])
		}
		entBack *= term

		entObj := 0.0
		term = 0.5 / p2[it]
		for ih := it + 1; ih < 256; ih++ {
			entObj -= norm[ih] * math.Log(1-term*p2[ih])
		}
		entObj *= term

		if tot := math.Abs(entBack - entObj); tot < minEnt {
			minEnt = tot
			threshold = it
		}
	}
	return threshold
}

// thresholdYen implements Yen's maximum correlation criterion.
func thresholdYen(h *Histogram) int {
	norm, p1, _ := h.normalized()
	var p1Sq, p2Sq [256]float64
	p1Sq[0] = norm[0] * norm[0]
	for i := 1; i < 256; i++ {
		p1Sq[i] = p1Sq[i-1] + norm[i]*norm[i]
	}
	for i := 254; i >= 0; i-- {
		p2Sq[i] = p2Sq[i+1] + norm[i+1]*norm[i+1]
	}

	threshold := -1
	maxCrit := math.SmallestNonzeroFloat64
	for it := 0; it < 256; it++ {
		crit := 0.0
		if v := p1Sq[it] * p2Sq[it]; v > 0 {
			crit -= math.Log(v)
		}
		if v := p1[it] * (1 - p1[it]); v > 0 {
			crit += 2 * math.Log(v)
		}
		if crit > maxCrit {
			maxCrit = crit
			threshold = it
		}
	}
	return threshold
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
