package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"imagec/internal/apperr"
	"imagec/internal/enums"
	img "imagec/internal/image"
	"imagec/internal/roi"
	"imagec/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drawDisk(m *img.Image16, cx, cy, radius int, v uint16) {
	for y := cy - radius; y <= cy+radius; y++ {
		for x := cx - radius; x <= cx+radius; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= radius*radius {
				m.Set(x, y, v)
			}
		}
	}
}

func fillRect(m *img.Mask, x, y, w, h int, v uint8) {
	for yy := y; yy < y+h; yy++ {
		for xx := x; xx < x+w; xx++ {
			m.Set(xx, yy, v)
		}
	}
}

func bimodalHistogram() *Histogram {
	var h Histogram
	for i := 0; i < 256; i++ {
		a := float64(i-60) / 8
		b := float64(i-190) / 8
		h[i] = math.Round(1000*math.Exp(-a*a/2) + 600*math.Exp(-b*b/2))
	}
	return &h
}

func TestThresholdMethodText(t *testing.T) {
	for i, name := range thresholdNames {
		var m ThresholdMethod
		require.NoError(t, m.UnmarshalText([]byte(name)))
		assert.Equal(t, ThresholdMethod(i), m)
		out, err := m.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, name, string(out))
	}
	var m ThresholdMethod
	require.NoError(t, m.UnmarshalText([]byte("none")))
	assert.Equal(t, ThresholdManual, m)
	assert.Error(t, m.UnmarshalText([]byte("bogus")))
}

func TestThresholdMethodsSplitBimodalHistogram(t *testing.T) {
	h := bimodalHistogram()
	for method := ThresholdLi; method <= ThresholdYen; method++ {
		t.Run(method.String(), func(t *testing.T) {
			got := CalcThreshold(method, h)
			assert.GreaterOrEqual(t, got, 55, "threshold below the first peak")
			assert.LessOrEqual(t, got, 195, "threshold above the second peak")
		})
	}
}

func TestThresholdExactValues(t *testing.T) {
	var h Histogram
	h[10] = 5
	h[200] = 5
	assert.Equal(t, 105, thresholdMean(&h))
	assert.Equal(t, 10, thresholdPercentile(&h))
	assert.Equal(t, -1, CalcThreshold(ThresholdManual, &h))
}

func TestScaledHistogram(t *testing.T) {
	m := img.NewImage16(3, 1)
	m.Pix = []uint16{1000, 2000, 3000}
	h, lo, hi := ScaledHistogram(m)
	assert.Equal(t, uint16(1000), lo)
	assert.Equal(t, uint16(3000), hi)
	assert.Equal(t, 1.0, h[0])
	assert.Equal(t, 1.0, h[128])
	assert.Equal(t, 1.0, h[255])
	assert.Equal(t, 3.0, h.total())
}

func TestAutoThreshold(t *testing.T) {
	ramp := img.NewImage16(256, 1)
	for i := range ramp.Pix {
		ramp.Pix[i] = uint16(i * 256)
	}

	lo, hi := AutoThreshold(ramp, ThresholdManual, ThresholdLimits{Min: 1234, Max: 40000})
	assert.Equal(t, uint16(1234), lo)
	assert.Equal(t, uint16(40000), hi)

	lo, hi = AutoThreshold(ramp, ThresholdMean, ThresholdLimits{Min: 0, Max: 65535})
	assert.Greater(t, lo, uint16(30000))
	assert.Less(t, lo, uint16(36000))
	assert.Equal(t, uint16(65535), hi)

	lo, _ = AutoThreshold(ramp, ThresholdMean, ThresholdLimits{Min: 65000, Max: 65535})
	assert.Equal(t, uint16(65000), lo, "configured minimum wins")

	lo, _ = AutoThreshold(ramp, ThresholdMean, ThresholdLimits{Min: 0, Max: 20000})
	assert.Equal(t, uint16(20000), lo, "clamped to the configured maximum")

	flat := img.NewImage16Filled(4, 4, 500)
	lo, _ = AutoThreshold(flat, ThresholdOtsu, ThresholdLimits{Max: 65535})
	assert.Equal(t, uint16(500), lo)
}

func TestBinarize(t *testing.T) {
	m := img.NewImage16(5, 1)
	m.Pix = []uint16{10, 20, 30, 40, 50}
	out := Binarize(m, 20, 40)
	assert.Equal(t, []uint16{0, 0, 65535, 65535, 0}, out.Pix)
}

func TestFindObjectsHierarchy(t *testing.T) {
	binary := img.NewMask(100, 100)
	fillRect(binary, 10, 10, 10, 10, 255)
	fillRect(binary, 40, 40, 20, 20, 255)
	fillRect(binary, 46, 46, 8, 8, 0)

	outer, err := FindObjects(binary, SegmentOptions{Hierarchy: HierarchyOuter, ClassId: 3})
	require.NoError(t, err)
	require.Equal(t, 2, outer.Len())
	areas := map[geometry.RectInt]int{}
	for _, r := range outer.Rois() {
		areas[r.BBox] = r.AreaSize()
		assert.Equal(t, enums.ClassId(3), r.ClassId())
		assert.Equal(t, r.BBox.Width, r.Mask.Width)
	}
	assert.Equal(t, 100, areas[geometry.NewRectInt(10, 10, 10, 10)])
	assert.Equal(t, 400-64, areas[geometry.NewRectInt(40, 40, 20, 20)], "hole is not part of the object")

	inner, err := FindObjects(binary, SegmentOptions{Hierarchy: HierarchyInner})
	require.NoError(t, err)
	require.Equal(t, 1, inner.Len())
	assert.Equal(t, 64, inner.At(0).AreaSize())

	both, err := FindObjects(binary, SegmentOptions{Hierarchy: HierarchyInnerAndOuter})
	require.NoError(t, err)
	assert.Equal(t, 3, both.Len())
	for i, r := range both.Rois() {
		assert.Equal(t, uint32(i), r.Index)
	}
}

func TestFindObjectsEmpty(t *testing.T) {
	list, err := FindObjects(img.NewMask(50, 50), SegmentOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, list.Len())
}

func TestFindObjectsTooManySpots(t *testing.T) {
	// A checkerboard of isolated pixels yields one contour per set pixel.
	binary := img.NewMask(640, 640)
	for y := 0; y < binary.Height; y += 2 {
		for x := 0; x < binary.Width; x += 2 {
			binary.Set(x, y, 255)
		}
	}
	_, err := FindObjects(binary, SegmentOptions{})
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeProcessing))
}

func TestThresholdDetector(t *testing.T) {
	image := img.NewImage16Filled(512, 512, 1000)
	radii := map[int]geometry.PointInt{
		10: {X: 100, Y: 100},
		20: {X: 300, Y: 150},
		5:  {X: 200, Y: 400},
	}
	for r, c := range radii {
		drawDisk(image, c.X, c.Y, r, 40000)
	}

	d := &ThresholdDetector{
		Method:  ThresholdManual,
		Limits:  ThresholdLimits{Min: 30000, Max: 65535},
		Options: SegmentOptions{ClassId: 1},
	}
	list, err := d.Forward(context.Background(), image, image)
	require.NoError(t, err)
	require.Equal(t, 3, list.Len())

	minT, maxT := d.Applied()
	assert.Equal(t, uint16(30000), minT)
	assert.Equal(t, uint16(65535), maxT)

	for _, obj := range list.Rois() {
		com := obj.CenterOfMass()
		var radius int
		for r, c := range radii {
			if math.Abs(com.X-float64(c.X)) < 1 && math.Abs(com.Y-float64(c.Y)) < 1 {
				radius = r
			}
		}
		require.NotZero(t, radius, "unexpected object at %v", com)
		want := math.Pi * float64(radius*radius)
		assert.InEpsilon(t, want, float64(obj.AreaSize()), 0.05)
		assert.Equal(t, float32(30000), obj.Confidence)
	}
}

func TestThresholdDetectorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &ThresholdDetector{Limits: ThresholdLimits{Max: 65535}}
	_, err := d.Forward(ctx, img.NewImage16(4, 4), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCirclesToObjects(t *testing.T) {
	circles := []Circle{
		{Center: geometry.Point2D{X: 50, Y: 50}, Radius: 10},
		{Center: geometry.Point2D{X: 2, Y: 2}, Radius: 6},
		{Center: geometry.Point2D{X: -50, Y: -50}, Radius: 3},
	}
	list, err := CirclesToObjects(circles, geometry.Size{Width: 100, Height: 100}, SegmentOptions{ClassId: 2, Confidence: 1})
	require.NoError(t, err)
	require.Equal(t, 2, list.Len())

	full := list.At(0)
	assert.Equal(t, geometry.NewRectInt(40, 40, 21, 21), full.BBox)
	assert.InEpsilon(t, math.Pi*100, float64(full.AreaSize()), 0.05)

	clipped := list.At(1)
	assert.Equal(t, 0, clipped.BBox.X)
	assert.Equal(t, 0, clipped.BBox.Y)
	assert.Equal(t, uint32(1), clipped.Index)
}

func TestHoughParamsCheck(t *testing.T) {
	assert.NoError(t, HoughParams{MinDistance: 10, MinRadius: 2, MaxRadius: 20, Param1: 100, Param2: 30}.Check())
	assert.Error(t, HoughParams{MinDistance: 0, Param1: 1, Param2: 1}.Check())
	assert.Error(t, HoughParams{MinDistance: 1, MinRadius: 10, MaxRadius: 5, Param1: 1, Param2: 1}.Check())
}

func TestDecodeBoxesWithObjectness(t *testing.T) {
	// [1, 3, 7]: cx, cy, w, h, objectness, score class 0, score class 1.
	data := []float32{
		10, 10, 4, 4, 0.9, 0.1, 0.8,
		20, 20, 4, 4, 0.2, 0.9, 0.1,
		30, 30, 8, 8, 0.7, 0.6, 0.3,
	}
	dets, err := DecodeBoxes(data, []int{1, 3, 7}, 2, 2, 2, geometry.Size{Width: 100, Height: 100}, 0.5)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, 1, dets[0].ModelClass)
	assert.Equal(t, float32(0.9), dets[0].Confidence)
	assert.Equal(t, geometry.NewRectInt(16, 16, 8, 8), dets[0].Box)
	assert.Equal(t, 0, dets[1].ModelClass)
	assert.Equal(t, geometry.NewRectInt(52, 52, 16, 16), dets[1].Box)
}

func TestDecodeBoxesTransposed(t *testing.T) {
	// [1, 5, 2]: attribute major with one class.
	data := []float32{
		10, 50, // cx
		10, 50, // cy
		4, 4, // w
		4, 4, // h
		0.3, 0.95, // class 0
	}
	dets, err := DecodeBoxes(data, []int{1, 5, 2}, 1, 1, 1, geometry.Size{Width: 100, Height: 100}, 0.5)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, float32(0.95), dets[0].Confidence)
	assert.Equal(t, geometry.NewRectInt(48, 48, 4, 4), dets[0].Box)

	_, err = DecodeBoxes(data, []int{1, 5, 2}, 7, 1, 1, geometry.Size{Width: 100, Height: 100}, 0.5)
	assert.Error(t, err)
}

func TestNonMaxSuppression(t *testing.T) {
	dets := []Detection{
		{ModelClass: 0, Confidence: 0.6, Box: geometry.NewRectInt(0, 0, 10, 10)},
		{ModelClass: 0, Confidence: 0.9, Box: geometry.NewRectInt(1, 1, 10, 10)},
		{ModelClass: 0, Confidence: 0.8, Box: geometry.NewRectInt(50, 50, 10, 10)},
	}
	kept := NonMaxSuppression(dets, 0.45)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].Confidence)
	assert.Equal(t, float32(0.8), kept[1].Confidence)

	list, err := DetectionsToObjects(kept, geometry.Size{Width: 100, Height: 100})
	require.NoError(t, err)
	require.Equal(t, 2, list.Len())
	assert.Equal(t, 100, list.At(0).AreaSize())
}

func TestProbabilityMapsToObjects(t *testing.T) {
	// One class, 4x4 map, a 2x2 block of high probability.
	maps := &probabilityMaps{data: make([]float32, 16), classes: 1, height: 4, width: 4}
	for _, i := range []int{5, 6, 9, 10} {
		maps.data[i] = 0.8
	}
	list, err := maps.objects(geometry.Size{Width: 8, Height: 8}, 0.5)
	require.NoError(t, err)
	require.Equal(t, 1, list.Len())
	assert.Equal(t, 16, list.At(0).AreaSize())
	assert.InDelta(t, 0.8, list.At(0).Confidence, 1e-6)
}

type fakeSource struct {
	images map[enums.MemoryIdx]*img.Image16
}

func (f *fakeSource) ClassId(in enums.ClassIdIn) enums.ClassId {
	if in == enums.ClassInDefault {
		return 7
	}
	return enums.ClassId(in)
}

func (f *fakeSource) LoadImageFromCache(id enums.ImageId) (*img.Image16, error) {
	if m, ok := f.images[id.MemoryId]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("no image %s", id)
}

func squareObject(t *testing.T, x, y, size int) *roi.ROI {
	t.Helper()
	mask := img.NewMask(size, size)
	for i := range mask.Pix {
		mask.Pix[i] = 255
	}
	r, err := roi.New(roi.Params{
		Confidence: 1,
		BBox:       geometry.NewRectInt(x, y, size, size),
		Mask:       mask,
		ImageSize:  geometry.Size{Width: 100, Height: 100},
	})
	require.NoError(t, err)
	return r
}

func TestObjectClassClassify(t *testing.T) {
	bright := img.NewImage16Filled(100, 100, 100)
	for y := 50; y < 100; y++ {
		for x := 0; x < 100; x++ {
			bright.Set(x, y, 5000)
		}
	}
	src := &fakeSource{images: map[enums.MemoryIdx]*img.Image16{enums.M1: bright}}
	imageIn := enums.ImageId{ImagePlane: enums.CurrentPlane, MemoryId: enums.M1}

	oc := ObjectClass{
		OutputClassNoMatch: enums.ClassInNone,
		ProbabilityHandicap: 0.5,
		Filters: []ClassifierFilter{
			{
				OutputClass: 4,
				Metrics:     roi.MetricsFilter{MinParticleSize: 50},
				Intensity:   &IntensityFilter{ImageIn: imageIn, MinIntensity: 1000},
			},
			{
				OutputClass: enums.ClassInDefault,
				Metrics:     roi.MetricsFilter{MinParticleSize: 50},
			},
		},
	}
	require.NoError(t, oc.Check())

	brightObj := squareObject(t, 10, 60, 10)
	keep, err := oc.Classify(src, brightObj)
	require.NoError(t, err)
	assert.True(t, keep)
	assert.Equal(t, enums.ClassId(4), brightObj.ClassId())
	assert.Equal(t, float32(0.5), brightObj.Confidence)
	assert.Empty(t, brightObj.Intensities(), "probing must not store measurements")

	darkObj := squareObject(t, 10, 10, 10)
	keep, err = oc.Classify(src, darkObj)
	require.NoError(t, err)
	assert.True(t, keep)
	assert.Equal(t, enums.ClassId(7), darkObj.ClassId())

	tiny := squareObject(t, 30, 30, 3)
	keep, err = oc.Classify(src, tiny)
	require.NoError(t, err)
	assert.False(t, keep, "NONE discards the object")
	assert.Equal(t, roi.TooSmall, tiny.Validity)

	missing := ObjectClass{Filters: []ClassifierFilter{{
		OutputClass: 1,
		Intensity:   &IntensityFilter{ImageIn: enums.ImageId{MemoryId: enums.M9}},
	}}}
	_, err = missing.Classify(src, squareObject(t, 0, 0, 10))
	assert.Error(t, err)
}

func TestClassifyList(t *testing.T) {
	list := roi.NewObjectList()
	list.Push(squareObject(t, 10, 10, 10))
	list.Push(squareObject(t, 40, 40, 2))
	classes := []ObjectClass{{
		ModelClassId:       65535,
		OutputClassNoMatch: enums.ClassInNone,
		Filters:            []ClassifierFilter{{OutputClass: 2, Metrics: roi.MetricsFilter{MinParticleSize: 10}}},
	}}
	objects := roi.NewObjectMap()
	require.NoError(t, ClassifyList(&fakeSource{}, classes, 65535, list, objects.Push))
	assert.Equal(t, 1, objects.Count())
	assert.Equal(t, 1, objects.List(2).Len())

	require.NoError(t, ClassifyList(&fakeSource{}, classes, 3, list, objects.Push))
	assert.Equal(t, 1, objects.Count(), "unknown model class is ignored")
}

func TestObjectClassDefaults(t *testing.T) {
	var oc ObjectClass
	require.NoError(t, json.Unmarshal([]byte(`{"modelClassId":1}`), &oc))
	assert.Equal(t, enums.ClassInNone, oc.OutputClassNoMatch)
	assert.Equal(t, float32(1), oc.ProbabilityHandicap)
}
