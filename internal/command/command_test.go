package command

import (
	"context"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"imagec/internal/apperr"
	"imagec/internal/detect"
	"imagec/internal/enums"
	img "imagec/internal/image"
	"imagec/internal/roi"
	"imagec/internal/settings"
	"imagec/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeContext resolves $ to class 1. Plane images are keyed by channel,
// memory slots by index.
type fakeContext struct {
	ctx        context.Context
	plane      enums.PlaneId
	planes     map[int32]*img.Image16
	memory     map[enums.MemoryIdx]*img.Image16
	stored     map[enums.MemoryIdx]enums.MemoryScope
	appliedMin uint16
	appliedMax uint16
	nextIndex  uint32
	controlDir string
}

func newFakeContext() *fakeContext {
	return &fakeContext{
		ctx:    context.Background(),
		plane:  enums.PlaneId{TStack: 0, ZStack: 0, CStack: 0},
		planes: map[int32]*img.Image16{},
		memory: map[enums.MemoryIdx]*img.Image16{},
		stored: map[enums.MemoryIdx]enums.MemoryScope{},
	}
}

func (f *fakeContext) ClassId(in enums.ClassIdIn) enums.ClassId {
	if in == enums.ClassInDefault {
		return 1
	}
	return enums.ClassId(in)
}

func (f *fakeContext) LoadImageFromCache(id enums.ImageId) (*img.Image16, error) {
	if id.MemoryId != enums.MemoryNone {
		if m, ok := f.memory[id.MemoryId]; ok {
			return m, nil
		}
		return nil, fmt.Errorf("memory slot %s is empty", id.MemoryId)
	}
	c := id.ImagePlane.CStack
	if c < 0 {
		c = f.plane.CStack
	}
	if m, ok := f.planes[c]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("no plane %d", c)
}

func (f *fakeContext) Ctx() context.Context { return f.ctx }
func (f *fakeContext) ActIterator() enums.PlaneId { return f.plane }
func (f *fakeContext) TileInfo() enums.TileId { return enums.TileId{} }
func (f *fakeContext) ImageSize() geometry.Size { return geometry.Size{Width: 512, Height: 512} }
func (f *fakeContext) AppliedMinThreshold() uint16 { return f.appliedMin }
func (f *fakeContext) SetAppliedThreshold(lo, hi uint16) { f.appliedMin, f.appliedMax = lo, hi }

func (f *fakeContext) StoreImageToMemory(idx enums.MemoryIdx, image *img.Image16, scope enums.MemoryScope) {
	f.memory[idx] = image
	f.stored[idx] = scope
}

func (f *fakeContext) NextObjectIndex() uint32 {
	f.nextIndex++
	return f.nextIndex
}

func (f *fakeContext) ControlImagePath(prefix string) string {
	if f.controlDir == "" {
		return ""
	}
	return filepath.Join(f.controlDir, prefix+"control.png")
}

func (f *fakeContext) ClassColor(enums.ClassId) color.RGBA {
	return color.RGBA{R: 255, A: 255}
}

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

func square(t *testing.T, class enums.ClassId, index uint32, x, y, size int) *roi.ROI {
	t.Helper()
	mask := img.NewMask(size, size)
	for i := range mask.Pix {
		mask.Pix[i] = 255
	}
	r, err := roi.New(roi.Params{
		Index:      index,
		Confidence: 1,
		ClassId:    class,
		BBox:       geometry.NewRectInt(x, y, size, size),
		Mask:       mask,
		ImageSize:  geometry.Size{Width: 100, Height: 100},
	})
	require.NoError(t, err)
	return r
}

func countValue(m *img.Image16, v uint16) int {
	n := 0
	for _, p := range m.Pix {
		if p == v {
			n++
		}
	}
	return n
}

func TestFactory(t *testing.T) {
	tests := []struct {
		step settings.PipelineStep
		want Command
	}{
		{settings.PipelineStep{Blur: &settings.BlurSettings{KernelSize: 3, Repeat: 1}}, &Blur{}},
		{settings.PipelineStep{Threshold: &settings.ThresholdSettings{}}, &Threshold{}},
		{settings.PipelineStep{Classify: &settings.ClassifierSettings{}}, &Classifier{}},
		{settings.PipelineStep{Intersection: &settings.IntersectionSettings{}}, &Intersection{}},
		{settings.PipelineStep{SaveImage: &settings.ImageSaverSettings{}}, &ImageSaver{}},
		{settings.PipelineStep{Morphology: &settings.MorphologicalTransformSettings{}}, &MorphologicalTransform{}},
		{settings.PipelineStep{EdgeDetection: &settings.EdgeDetectionSettings{}}, &EdgeDetection{}},
		{settings.PipelineStep{RankFilter: &settings.RankFilterSettings{}}, &RankFilter{}},
		{settings.PipelineStep{EnhanceContrast: &settings.EnhanceContrastSettings{}}, &EnhanceContrast{}},
		{settings.PipelineStep{ThresholdAdaptive: &settings.ThresholdAdaptiveSettings{}}, &ThresholdAdaptive{}},
		{settings.PipelineStep{Reclassify: &settings.ReclassifySettings{}}, &Reclassify{}},
		{settings.PipelineStep{ThresholdValidator: &settings.ThresholdValidatorSettings{}}, &ThresholdValidator{}},
		{settings.PipelineStep{Disabled: true, Crop: &settings.MarginCropSettings{}}, passThrough{}},
	}
	for _, tt := range tests {
		cmd, err := Factory(&tt.step)
		require.NoError(t, err)
		assert.IsType(t, tt.want, cmd)
	}

	_, err := Factory(&settings.PipelineStep{})
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeConfiguration))
}

func TestDisabledStepPassesThrough(t *testing.T) {
	cmd, err := Factory(&settings.PipelineStep{Disabled: true, Crop: &settings.MarginCropSettings{MarginSize: 5}})
	require.NoError(t, err)
	frame := img.NewImage16Filled(20, 20, 7)
	require.NoError(t, cmd.Execute(newFakeContext(), frame, roi.NewObjectMap()))
	assert.Equal(t, 400, countValue(frame, 7))
}

func TestThresholdLevels(t *testing.T) {
	frame := img.NewImage16(3, 1)
	frame.Pix = []uint16{50, 500, 5000}
	ctx := newFakeContext()
	cmd := &Threshold{settings: settings.ThresholdSettings{Thresholds: []settings.Threshold{
		{Mode: detect.ThresholdManual, ThresholdMin: 100, ThresholdMax: 65535, ModelClassId: 65535},
		{Mode: detect.ThresholdManual, ThresholdMin: 1000, ThresholdMax: 65535, ModelClassId: 200},
	}}}
	require.NoError(t, cmd.Execute(ctx, frame, roi.NewObjectMap()))
	assert.Equal(t, []uint16{0, 65535, 200}, frame.Pix)
	assert.Equal(t, uint16(100), ctx.appliedMin)
	assert.Equal(t, uint16(65535), ctx.appliedMax)
}

func TestThresholdAndClassify(t *testing.T) {
	frame := img.NewImage16Filled(512, 512, 1000)
	radii := map[int]geometry.PointInt{
		10: {X: 100, Y: 100},
		20: {X: 300, Y: 150},
		5:  {X: 200, Y: 400},
	}
	for r, c := range radii {
		drawDisk(frame, c.X, c.Y, r, 40000)
	}
	ctx := newFakeContext()
	objects := roi.NewObjectMap()

	threshold := &Threshold{settings: settings.ThresholdSettings{Thresholds: []settings.Threshold{
		{Mode: detect.ThresholdManual, ThresholdMin: 30000, ThresholdMax: 65535, ModelClassId: 65535},
	}}}
	classify := &Classifier{settings: settings.ClassifierSettings{ModelClasses: []detect.ObjectClass{{
		ModelClassId:       65535,
		OutputClassNoMatch: enums.ClassInNone,
		Filters: []detect.ClassifierFilter{
			{OutputClass: enums.ClassInDefault, Metrics: roi.MetricsFilter{MinParticleSize: 100}},
		},
	}}}}
	require.NoError(t, threshold.Execute(ctx, frame, objects))
	require.NoError(t, classify.Execute(ctx, frame, objects))

	require.Equal(t, []enums.ClassId{1}, objects.Classes(), "only class 1 is written")
	list := objects.List(1)
	require.Equal(t, 2, list.Len(), "the radius 5 disk is too small")
	seen := map[uint32]bool{}
	for _, r := range list.Rois() {
		assert.False(t, seen[r.Index], "indexes are unique")
		seen[r.Index] = true
		assert.Equal(t, float32(30000), r.Confidence)
		assert.Equal(t, ctx.plane, r.Plane())
		assert.True(t, r.Validity.IsValid())
		area := float64(r.AreaSize())
		if area > 1000 {
			assert.InEpsilon(t, math.Pi*400, area, 0.05)
		} else {
			assert.InEpsilon(t, math.Pi*100, area, 0.05)
		}
	}
}

func TestClassifierIgnoresOtherGrayValues(t *testing.T) {
	frame := img.NewImage16(40, 40)
	for y := 5; y < 15; y++ {
		for x := 5; x < 15; x++ {
			frame.Set(x, y, 200)
		}
	}
	for y := 20; y < 30; y++ {
		for x := 20; x < 30; x++ {
			frame.Set(x, y, 65535)
		}
	}
	objects := roi.NewObjectMap()
	classify := &Classifier{settings: settings.ClassifierSettings{ModelClasses: []detect.ObjectClass{
		{ModelClassId: 200, OutputClassNoMatch: 2},
		{ModelClassId: 65535, OutputClassNoMatch: 3},
	}}}
	require.NoError(t, classify.Execute(newFakeContext(), frame, objects))
	require.Equal(t, 1, objects.List(2).Len())
	require.Equal(t, 1, objects.List(3).Len())
	assert.Equal(t, geometry.NewRectInt(5, 5, 10, 10), objects.List(2).At(0).BBox)
	assert.Equal(t, geometry.NewRectInt(20, 20, 10, 10), objects.List(3).At(0).BBox)
}

func TestAiClassifierMissingModel(t *testing.T) {
	params := detect.DefaultAiParams()
	params.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	cmd := &AiClassifier{settings: settings.AiClassifierSettings{AiParams: params}}
	err := cmd.Execute(newFakeContext(), img.NewImage16(10, 10), roi.NewObjectMap())
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeProcessing))
	assert.NoError(t, cmd.Close())
}

func TestMarginCrop(t *testing.T) {
	frame := img.NewImage16Filled(10, 10, 9)
	cmd := &MarginCrop{settings: settings.MarginCropSettings{MarginSize: 2}}
	require.NoError(t, cmd.Execute(newFakeContext(), frame, nil))
	assert.Equal(t, 36, countValue(frame, 9))
	assert.Equal(t, uint16(0), frame.At(1, 5))
	assert.Equal(t, uint16(9), frame.At(2, 2))
}

func TestImageMath(t *testing.T) {
	ctx := newFakeContext()
	ctx.memory[enums.M0] = img.NewImage16Filled(4, 4, 10000)

	add := img.NewImage16Filled(4, 4, 60000)
	cmd := &ImageMath{settings: settings.ImageMathSettings{Function: settings.MathAdd, InputImageSecond: enums.ImageId{MemoryId: enums.M0}}}
	require.NoError(t, cmd.Execute(ctx, add, nil))
	assert.Equal(t, uint16(65535), add.At(0, 0), "saturates")

	sub := img.NewImage16Filled(4, 4, 3000)
	cmd = &ImageMath{settings: settings.ImageMathSettings{Function: settings.MathSub, OperatorOrder: settings.OrderBoA, InputImageSecond: enums.ImageId{MemoryId: enums.M0}}}
	require.NoError(t, cmd.Execute(ctx, sub, nil))
	assert.Equal(t, uint16(7000), sub.At(3, 3))

	inv := img.NewImage16Filled(4, 4, 0)
	cmd = &ImageMath{settings: settings.ImageMathSettings{Function: settings.MathInvert}}
	require.NoError(t, cmd.Execute(ctx, inv, nil))
	assert.Equal(t, uint16(65535), inv.At(1, 1))

	ctx.memory[enums.M1] = img.NewImage16(2, 2)
	cmd = &ImageMath{settings: settings.ImageMathSettings{Function: settings.MathMax, InputImageSecond: enums.ImageId{MemoryId: enums.M1}}}
	err := cmd.Execute(ctx, img.NewImage16(4, 4), nil)
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeProcessing))
}

func TestImageCacheAndLoader(t *testing.T) {
	ctx := newFakeContext()
	frame := img.NewImage16Filled(5, 5, 42)
	store := &ImageCache{settings: settings.ImageCacheSettings{MemoryId: enums.M3, MemoryScope: enums.ScopeIteration}}
	require.NoError(t, store.Execute(ctx, frame, nil))
	frame.Fill(1)
	assert.Equal(t, uint16(42), ctx.memory[enums.M3].At(2, 2), "stored a copy")
	assert.Equal(t, enums.ScopeIteration, ctx.stored[enums.M3])

	load := &ImageLoader{settings: settings.ImageLoaderSettings{ImageIn: enums.ImageId{MemoryId: enums.M3}}}
	require.NoError(t, load.Execute(ctx, frame, nil))
	assert.Equal(t, uint16(42), frame.At(0, 0))
}

func TestMedianFilterRemovesSpikes(t *testing.T) {
	for _, k := range []int{3, 7} {
		frame := img.NewImage16Filled(20, 20, 100)
		frame.Set(10, 10, 60000)
		out := medianFilter(frame, k)
		assert.Equal(t, 400, countValue(out, 100), "kernel %d", k)
	}

	frame := img.NewImage16Filled(20, 20, 100)
	cmd := &MedianSubtract{settings: settings.MedianSubtractSettings{KernelSize: 5}}
	require.NoError(t, cmd.Execute(newFakeContext(), frame, nil))
	assert.Equal(t, 400, countValue(frame, 0))
}

func TestRollingBall(t *testing.T) {
	frame := img.NewImage16Filled(40, 40, 1000)
	for y := 19; y < 22; y++ {
		for x := 19; x < 22; x++ {
			frame.Set(x, y, 5000)
		}
	}
	cmd := &RollingBall{settings: settings.RollingBallSettings{BallSize: 5}}
	require.NoError(t, cmd.Execute(newFakeContext(), frame, nil))
	assert.Equal(t, uint16(0), frame.At(5, 5))
	assert.InDelta(t, 4000, float64(frame.At(20, 20)), 2)
}

// rampWithSpot is a horizontal intensity ramp with a bright disk at (80,50).
func rampWithSpot() *img.Image16 {
	frame := img.NewImage16(160, 100)
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			frame.Set(x, y, uint16(1000+x/2))
		}
	}
	for y := 47; y <= 53; y++ {
		for x := 77; x <= 83; x++ {
			if dx, dy := x-80, y-50; dx*dx+dy*dy <= 9 {
				frame.Set(x, y, frame.At(x, y)+5000)
			}
		}
	}
	return frame
}

func TestRollingBallRemovesRamp(t *testing.T) {
	for _, ball := range []settings.BallType{settings.BallTypeBall, settings.BallTypeParaboloid} {
		t.Run(string(must(ball.MarshalText())), func(t *testing.T) {
			frame := rampWithSpot()
			cmd := &RollingBall{settings: settings.RollingBallSettings{BallType: ball, BallSize: 20}}
			require.NoError(t, cmd.Execute(newFakeContext(), frame, nil))

			assert.Greater(t, frame.At(80, 50), uint16(4500), "spot is kept")
			worst := uint16(0)
			for y := 10; y < frame.Height-10; y++ {
				for x := 10; x < frame.Width-10; x++ {
					if dx, dy := x-80, y-50; dx*dx+dy*dy < 144 {
						continue
					}
					worst = max(worst, frame.At(x, y))
				}
			}
			assert.Less(t, worst, uint16(30), "ramp is part of the background")
		})
	}
}

func TestBallPatch(t *testing.T) {
	tests := []struct {
		radius float64
		shrink int
		width  int
	}{
		{5, 1, 9},
		{20, 2, 17},
		{50, 4, 19},
		{200, 8, 31},
	}
	for _, tt := range tests {
		b := newBallPatch(tt.radius)
		assert.Equal(t, tt.shrink, b.shrink, "radius %g", tt.radius)
		assert.Equal(t, tt.width, b.width, "radius %g", tt.radius)
		half := b.width / 2
		assert.Equal(t, b.z[half*b.width+half], slices.Max(b.z), "cap peaks in the centre")
	}
}

func TestShrinkAndEnlarge(t *testing.T) {
	fp := &floatPlane{w: 5, h: 3, pix: []float32{
		4, 2, 9, 9, 7,
		3, 8, 9, 1, 7,
		6, 6, 6, 6, 5,
	}}
	small := fp.shrink(2)
	assert.Equal(t, 3, small.w)
	assert.Equal(t, 2, small.h)
	assert.Equal(t, []float32{2, 1, 7, 6, 6, 5}, small.pix)

	flat := &floatPlane{w: 8, h: 6, pix: make([]float32, 48)}
	flat.enlarge(&floatPlane{w: 4, h: 3, pix: []float32{3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3}}, 2)
	for _, v := range flat.pix {
		assert.InDelta(t, 3, v, 1e-5)
	}
}

func TestBlurKeepsFlatImage(t *testing.T) {
	for _, mode := range []settings.BlurMode{settings.BlurGaussian, settings.BlurBox, settings.BlurMedian} {
		frame := img.NewImage16Filled(16, 16, 1234)
		cmd := &Blur{settings: settings.BlurSettings{Mode: mode, KernelSize: 5, Repeat: 2}}
		require.NoError(t, cmd.Execute(newFakeContext(), frame, nil))
		assert.Equal(t, 256, countValue(frame, 1234))
	}
}

func TestMeasure(t *testing.T) {
	ctx := newFakeContext()
	ch0 := img.NewImage16Filled(100, 100, 10)
	ch1 := img.NewImage16(100, 100)
	for i := range ch1.Pix {
		ch1.Pix[i] = uint16(i % 100)
	}
	ctx.planes[0] = ch0
	ctx.planes[1] = ch1

	objects := roi.NewObjectMap()
	r := square(t, 1, 1, 10, 20, 5)
	objects.Push(r)
	objects.Push(square(t, 9, 2, 0, 0, 5))

	cmd := &Measure{settings: settings.MeasureSettings{
		InputClasses: []enums.ClassIdIn{enums.ClassInDefault},
		PlanesIn: []enums.ImageId{
			enums.CurrentImage(),
			{ImagePlane: enums.PlaneId{TStack: -1, ZStack: -1, CStack: 1}, MemoryId: enums.MemoryNone},
		},
	}}
	require.NoError(t, cmd.Execute(ctx, nil, objects))

	own, ok := r.Intensity(0)
	require.True(t, ok)
	assert.Equal(t, roi.Intensity{Avg: 10, Min: 10, Max: 10}, own)

	other, ok := r.Intensity(1)
	require.True(t, ok)
	assert.Equal(t, roi.Intensity{Avg: 12, Min: 10, Max: 14}, other)

	assert.Empty(t, objects.List(9).At(0).Intensities(), "class not selected")
}

func TestMeasureDistance(t *testing.T) {
	objects := roi.NewObjectMap()
	a := square(t, 1, 1, 0, 0, 10)
	b := square(t, 2, 2, 30, 0, 10)
	objects.Push(a)
	objects.Push(b)

	cmd := &MeasureDistance{settings: settings.MeasureDistanceSettings{InputClassFrom: 1, InputClassTo: 2}}
	require.NoError(t, cmd.Execute(newFakeContext(), nil, objects))
	require.Len(t, a.Distances(), 1)
	d := a.Distances()[0]
	assert.Equal(t, enums.ClassId(2), d.ToClass)
	assert.Equal(t, uint32(2), d.ToIndex)
	assert.InDelta(t, 30.0, d.CenterToCenter, 1e-9)

	require.Len(t, b.Distances(), 1)
	back := b.Distances()[0]
	assert.Equal(t, enums.ClassId(1), back.ToClass)
	assert.Equal(t, uint32(1), back.ToIndex)
	assert.InDelta(t, 30.0, back.CenterToCenter, 1e-9)
}

func TestMeasureDistanceSameClass(t *testing.T) {
	objects := roi.NewObjectMap()
	a := square(t, 1, 1, 0, 0, 10)
	b := square(t, 1, 2, 30, 0, 10)
	c := square(t, 1, 3, 0, 30, 10)
	objects.Push(a)
	objects.Push(b)
	objects.Push(c)

	cmd := &MeasureDistance{settings: settings.MeasureDistanceSettings{InputClassFrom: 1, InputClassTo: 1}}
	require.NoError(t, cmd.Execute(newFakeContext(), nil, objects))
	for _, r := range []*roi.ROI{a, b, c} {
		require.Len(t, r.Distances(), 2, "roi %d", r.Index)
		for _, d := range r.Distances() {
			assert.NotEqual(t, r.Index, d.ToIndex)
		}
	}
}

func TestObjectsToImage(t *testing.T) {
	tests := []struct {
		fn   settings.ObjectsFunction
		want int
	}{
		{settings.ObjectsNone, 100},
		{settings.ObjectsNot, 2500 - 100},
		{settings.ObjectsAnd, 25},
		{settings.ObjectsAndNot, 75},
		{settings.ObjectsOr, 175},
		{settings.ObjectsXor, 150},
	}
	for _, tt := range tests {
		t.Run(tt.fn.String(), func(t *testing.T) {
			objects := roi.NewObjectMap()
			objects.Push(square(t, 1, 1, 0, 0, 10))
			objects.Push(square(t, 2, 2, 5, 5, 10))
			frame := img.NewImage16(50, 50)
			cmd := &ObjectsToImage{settings: settings.ObjectsToImageSettings{
				ClassesIn:       []enums.ClassIdIn{1},
				Function:        tt.fn,
				ClassesInSecond: []enums.ClassIdIn{2},
			}}
			require.NoError(t, cmd.Execute(newFakeContext(), frame, objects))
			assert.Equal(t, tt.want, countValue(frame, 65535))
		})
	}
}

func TestIntersection(t *testing.T) {
	objects := roi.NewObjectMap()
	a := square(t, 1, 1, 0, 0, 10)
	b := square(t, 2, 2, 5, 0, 10)
	far := square(t, 2, 3, 60, 60, 10)
	objects.Push(a)
	objects.Push(b)
	objects.Push(far)

	ctx := newFakeContext()
	ctx.nextIndex = 3
	cmd := &Intersection{settings: settings.IntersectionSettings{
		InputClasses:    []enums.ClassIdIn{1, 2},
		MinIntersection: 0.1,
		OutputClass:     5,
	}}
	require.NoError(t, cmd.Execute(ctx, nil, objects))

	require.Contains(t, a.IntersectingRois(), enums.ClassId(2))
	assert.Equal(t, []uint32{2}, a.IntersectingRois()[2].Valid)
	assert.Equal(t, []uint32{1}, b.IntersectingRois()[1].Valid)
	assert.Empty(t, far.IntersectingRois())

	created := objects.List(5)
	require.Equal(t, 1, created.Len())
	r := created.At(0)
	assert.Equal(t, uint32(4), r.Index)
	assert.Equal(t, 50, r.AreaSize())
	assert.InDelta(t, 0.5, float64(r.Confidence), 1e-6)
	assert.Equal(t, geometry.NewRectInt(5, 0, 5, 10), r.BBox)
}

func TestIntersectionBelowMinimum(t *testing.T) {
	objects := roi.NewObjectMap()
	a := square(t, 1, 1, 0, 0, 10)
	b := square(t, 2, 2, 9, 0, 10)
	objects.Push(a)
	objects.Push(b)
	cmd := &Intersection{settings: settings.IntersectionSettings{
		InputClasses:    []enums.ClassIdIn{1, 2},
		MinIntersection: 0.5,
		OutputClass:     5,
	}}
	require.NoError(t, cmd.Execute(newFakeContext(), nil, objects))
	assert.Equal(t, []uint32{2}, a.IntersectingRois()[2].Invalid)
	assert.NotContains(t, objects, enums.ClassId(5))
}

func TestImageSaver(t *testing.T) {
	objects := roi.NewObjectMap()
	objects.Push(square(t, 1, 1, 10, 10, 20))
	frame := img.NewImage16Filled(64, 64, 500)
	cmd := &ImageSaver{settings: settings.ImageSaverSettings{NamePrefix: "step_", ClassesIn: []enums.ClassIdIn{1}}}

	ctx := newFakeContext()
	require.NoError(t, cmd.Execute(ctx, frame, objects), "no control image folder")

	ctx.controlDir = t.TempDir()
	require.NoError(t, cmd.Execute(ctx, frame, objects))
	info, err := os.Stat(filepath.Join(ctx.controlDir, "step_control.png"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
