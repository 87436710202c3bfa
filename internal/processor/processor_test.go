package processor

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"imagec/internal/apperr"
	"imagec/internal/detect"
	"imagec/internal/enums"
	img "imagec/internal/image"
	"imagec/internal/metrics"
	"imagec/internal/ome"
	"imagec/internal/roi"
	"imagec/internal/settings"
	"imagec/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves full planes from memory and crops tiles like the real
// reader does.
type fakeReader struct {
	width, height int
	nZ, nT, nC    int
	planes        map[enums.PlaneId]*img.Image16
	broken        map[string]bool
	panics        map[string]bool
}

func newFakeReader(width, height int) *fakeReader {
	return &fakeReader{
		width: width, height: height,
		nZ: 1, nT: 1, nC: 1,
		planes: map[enums.PlaneId]*img.Image16{},
		broken: map[string]bool{},
		panics: map[string]bool{},
	}
}

func (f *fakeReader) GetOmeInformation(path string, _ ome.PhysicalSize) (*ome.OmeInfo, error) {
	if f.broken[filepath.Base(path)] {
		return nil, apperr.NewDecodeError("not an image", nil)
	}
	if f.panics[filepath.Base(path)] {
		panic("corrupt plane table")
	}
	return ome.New(&ome.ImageInfo{
		NrOfChannels: f.nC,
		NrOfZStacks:  f.nZ,
		NrOfTStacks:  f.nT,
		Resolutions: map[int]*ome.PyramidLevel{0: {
			ImageWidth:  f.width,
			ImageHeight: f.height,
			Bits:        16,
		}},
	}), nil
}

func (f *fakeReader) LoadImageTile(_ string, plane enums.PlaneId, _, _ int, tile enums.TileId, _ *ome.OmeInfo) (*img.Image16, error) {
	full, ok := f.planes[plane]
	if !ok {
		return nil, apperr.NewDecodeError(fmt.Sprintf("plane %s not found", plane), nil)
	}
	x, y := tile.Offset()
	rect := geometry.NewRectInt(x, y, tile.TileWidth, tile.TileHeight).
		Intersect(geometry.NewRectInt(0, 0, f.width, f.height))
	return full.Crop(rect), nil
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

func thresholdStep(min uint16) settings.PipelineStep {
	return settings.PipelineStep{Threshold: &settings.ThresholdSettings{Thresholds: []settings.Threshold{
		{Mode: detect.ThresholdManual, ThresholdMin: min, ThresholdMax: 65535, ModelClassId: 65535},
	}}}
}

func classifyStep(minSize float64) settings.PipelineStep {
	return settings.PipelineStep{Classify: &settings.ClassifierSettings{ModelClasses: []detect.ObjectClass{{
		ModelClassId:       65535,
		OutputClassNoMatch: enums.ClassInNone,
		Filters: []detect.ClassifierFilter{
			{OutputClass: enums.ClassInDefault, Metrics: roi.MetricsFilter{MinParticleSize: minSize}},
		},
	}}}}
}

func testSettings(steps ...settings.PipelineStep) *settings.AnalyzeSettings {
	return &settings.AnalyzeSettings{
		Classes: []settings.Class{{ClassId: 1, Name: "nuclei", Color: "#ff0000"}},
		Pipelines: []settings.Pipeline{{
			Meta:          settings.PipelineMeta{Name: "nuclei"},
			PipelineSetup: settings.PipelineSetup{CStackIndex: 0, DefaultClassId: 1},
			PipelineSteps: steps,
		}},
		Options:   settings.Options{PixelInMicrometer: 1, WithDetailedReport: true},
		Reporting: settings.DefaultReportingSettings(),
	}
}

func testOptions(t *testing.T) Options {
	return Options{
		Threads:             1,
		MaxImageBytesAtOnce: 1 << 30,
		TileSize:            128,
		OutDir:              t.TempDir(),
		WriteObjects:        true,
	}
}

func readObjects(t *testing.T, dir, folder string) *roi.ObjectList {
	t.Helper()
	list, err := roi.ReadFile(filepath.Join(dir, folder, "objects.jobj"))
	require.NoError(t, err)
	return list
}

func subFolders(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestSingleChannelDetection(t *testing.T) {
	reader := newFakeReader(512, 512)
	frame := img.NewImage16Filled(512, 512, 1000)
	drawDisk(frame, 100, 100, 10, 40000)
	drawDisk(frame, 300, 150, 20, 40000)
	drawDisk(frame, 200, 400, 5, 40000)
	reader.planes[enums.PlaneId{}] = frame

	opts := testOptions(t)
	p, err := New(testSettings(thresholdStep(30000), classifyStep(100)), reader, metrics.New(), opts)
	require.NoError(t, err)
	summary, err := p.Run(context.Background(), []string{"/data/plate/img_B02_1.tif"})
	require.NoError(t, err)
	assert.Equal(t, Summary{NImages: 1, NImagesProcessed: 1}, summary)

	list := readObjects(t, opts.OutDir, "img_B02_1")
	require.Equal(t, 2, list.Len(), "the radius 5 disk is below the minimum size")
	indexes := map[uint32]bool{}
	for _, r := range list.Rois() {
		assert.Equal(t, enums.ClassId(1), r.ClassId())
		assert.True(t, r.Validity.IsValid())
		assert.False(t, indexes[r.Index], "indexes are unique within an image")
		indexes[r.Index] = true
	}
	assert.FileExists(t, filepath.Join(opts.OutDir, "img_B02_1", "detail.csv"))
	assert.FileExists(t, filepath.Join(opts.OutDir, "results.csv"))

	images := p.Report().Images()
	require.Len(t, images, 1)
	assert.False(t, images[0].Failed)
}

type shape struct {
	class enums.ClassId
	bbox  geometry.RectInt
	area  int
}

func shapes(list *roi.ObjectList) []shape {
	var out []shape
	for _, r := range list.Rois() {
		out = append(out, shape{class: r.ClassId(), bbox: r.BBox, area: r.AreaSize()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].bbox.Y != out[j].bbox.Y {
			return out[i].bbox.Y < out[j].bbox.Y
		}
		return out[i].bbox.X < out[j].bbox.X
	})
	return out
}

func TestTilingGivesSameObjects(t *testing.T) {
	reader := newFakeReader(256, 256)
	frame := img.NewImage16(256, 256)
	drawDisk(frame, 40, 40, 10, 50000)
	drawDisk(frame, 200, 60, 15, 50000)
	drawDisk(frame, 60, 200, 12, 50000)
	drawDisk(frame, 190, 190, 20, 50000)
	reader.planes[enums.PlaneId{}] = frame
	s := testSettings(thresholdStep(30000), classifyStep(50))

	run := func(maxBytes int64) (*roi.ObjectList, Summary) {
		opts := testOptions(t)
		opts.MaxImageBytesAtOnce = maxBytes
		p, err := New(s, reader, metrics.New(), opts)
		require.NoError(t, err)
		summary, err := p.Run(context.Background(), []string{"/data/disks.tif"})
		require.NoError(t, err)
		return readObjects(t, opts.OutDir, "disks"), summary
	}

	whole, _ := run(1 << 30)
	tiled, summary := run(1)
	require.Equal(t, 4, whole.Len())
	assert.Equal(t, shapes(whole), shapes(tiled))
	assert.Zero(t, summary.NTilesFailed)
}

func TestMeasureOtherChannel(t *testing.T) {
	reader := newFakeReader(256, 256)
	reader.nC = 2
	ch0 := img.NewImage16(256, 256)
	for i := 0; i < 5; i++ {
		x, y := 20+i*45, 30+i*40
		for dy := 0; dy < 10; dy++ {
			for dx := 0; dx < 10; dx++ {
				ch0.Set(x+dx, y+dy, 50000)
			}
		}
	}
	ch1 := img.NewImage16(256, 256)
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			ch1.Set(x, y, uint16((x*7+y*3)%1000))
		}
	}
	reader.planes[enums.PlaneId{CStack: 0}] = ch0
	reader.planes[enums.PlaneId{CStack: 1}] = ch1

	measure := settings.PipelineStep{Measure: &settings.MeasureSettings{
		InputClasses: []enums.ClassIdIn{enums.ClassInDefault},
		PlanesIn: []enums.ImageId{
			{ImagePlane: enums.PlaneId{TStack: -1, ZStack: -1, CStack: 1}, MemoryId: enums.MemoryNone},
		},
	}}
	s := testSettings(thresholdStep(30000), classifyStep(50), measure)
	s.Channels = []settings.ChannelSettings{{Index: 0, Name: "dapi"}, {Index: 1, Name: "gfp"}}

	opts := testOptions(t)
	p, err := New(s, reader, metrics.New(), opts)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), []string{"/data/two.tif"})
	require.NoError(t, err)

	list := readObjects(t, opts.OutDir, "two")
	require.Equal(t, 5, list.Len())
	for _, r := range list.Rois() {
		got, ok := r.Intensity(1)
		require.True(t, ok, "channel 1 is measured")

		var sum float64
		lo, hi := math.Inf(1), math.Inf(-1)
		n := 0
		for y := 0; y < r.BBox.Height; y++ {
			for x := 0; x < r.BBox.Width; x++ {
				if !r.Mask.IsSet(x, y) {
					continue
				}
				v := float64(ch1.At(r.BBox.X+x, r.BBox.Y+y))
				sum += v
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
				n++
			}
		}
		require.Positive(t, n)
		assert.InDelta(t, sum/float64(n), got.Avg, 1e-9)
		assert.Equal(t, lo, got.Min)
		assert.Equal(t, hi, got.Max)
	}
}

func TestCancelAfterFirstImage(t *testing.T) {
	reader := newFakeReader(64, 64)
	frame := img.NewImage16(64, 64)
	drawDisk(frame, 32, 32, 8, 50000)
	reader.planes[enums.PlaneId{}] = frame

	var images []string
	for i := 0; i < 100; i++ {
		images = append(images, fmt.Sprintf("/data/img_%03d.tif", i))
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := testOptions(t)
	opts.ImageDone = func(string, error) { cancel() }
	p, err := New(testSettings(thresholdStep(30000), classifyStep(50)), reader, metrics.New(), opts)
	require.NoError(t, err)

	summary, err := p.Run(ctx, images)
	require.NoError(t, err)
	assert.Equal(t, 100, summary.NImages)
	assert.Equal(t, 1, summary.NImagesProcessed)
	assert.Zero(t, summary.NImagesFailed)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, []string{"img_000"}, subFolders(t, opts.OutDir))
	assert.FileExists(t, filepath.Join(opts.OutDir, "results.csv"))
}

func TestFailedImageIsReported(t *testing.T) {
	reader := newFakeReader(64, 64)
	reader.planes[enums.PlaneId{}] = img.NewImage16(64, 64)
	reader.broken["bad.tif"] = true

	var failed []string
	opts := testOptions(t)
	opts.ImageDone = func(path string, err error) {
		if err != nil {
			failed = append(failed, filepath.Base(path))
			assert.True(t, apperr.IsType(err, apperr.ErrorTypeDecode))
		}
	}
	p, err := New(testSettings(thresholdStep(30000), classifyStep(50)), reader, metrics.New(), opts)
	require.NoError(t, err)
	summary, err := p.Run(context.Background(), []string{"/data/bad.tif", "/data/good.tif"})
	require.NoError(t, err)

	assert.Equal(t, Summary{NImages: 2, NImagesProcessed: 1, NImagesFailed: 1}, summary)
	assert.Equal(t, []string{"bad.tif"}, failed)
	assert.Equal(t, []string{"good"}, subFolders(t, opts.OutDir), "no folder for the failed image")

	var states []bool
	for _, im := range p.Report().Images() {
		states = append(states, im.Failed)
	}
	assert.ElementsMatch(t, []bool{true, false}, states)
}

func TestPanickingImageIsReported(t *testing.T) {
	reader := newFakeReader(64, 64)
	reader.planes[enums.PlaneId{}] = img.NewImage16(64, 64)
	reader.panics["crash.tif"] = true

	var failed []error
	opts := testOptions(t)
	opts.ImageDone = func(_ string, err error) {
		if err != nil {
			failed = append(failed, err)
		}
	}
	p, err := New(testSettings(thresholdStep(30000), classifyStep(50)), reader, metrics.New(), opts)
	require.NoError(t, err)
	summary, err := p.Run(context.Background(), []string{"/data/crash.tif", "/data/good.tif"})
	require.NoError(t, err)

	assert.Equal(t, Summary{NImages: 2, NImagesProcessed: 1, NImagesFailed: 1}, summary)
	require.Len(t, failed, 1)
	assert.True(t, apperr.IsType(failed[0], apperr.ErrorTypeProcessing))
	assert.Contains(t, failed[0].Error(), "panic")
	assert.Equal(t, []string{"good"}, subFolders(t, opts.OutDir))
}

func TestMissingChannelFailsImage(t *testing.T) {
	reader := newFakeReader(64, 64)
	reader.planes[enums.PlaneId{}] = img.NewImage16(64, 64)
	s := testSettings(thresholdStep(30000), classifyStep(50))
	s.Pipelines[0].PipelineSetup.CStackIndex = 3

	opts := testOptions(t)
	p, err := New(s, reader, metrics.New(), opts)
	require.NoError(t, err)
	summary, err := p.Run(context.Background(), []string{"/data/one.tif"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NImagesFailed)
}

func TestFailingTilesAreSkipped(t *testing.T) {
	reader := newFakeReader(256, 256)
	reader.planes[enums.PlaneId{}] = img.NewImage16(256, 256)
	add := settings.PipelineStep{ImageMath: &settings.ImageMathSettings{
		Function:         settings.MathAdd,
		InputImageSecond: enums.ImageId{ImagePlane: enums.CurrentPlane, MemoryId: enums.M3},
	}}
	s := testSettings(add, thresholdStep(30000), classifyStep(50))

	opts := testOptions(t)
	opts.MaxImageBytesAtOnce = 1
	p, err := New(s, reader, metrics.New(), opts)
	require.NoError(t, err)
	summary, err := p.Run(context.Background(), []string{"/data/empty.tif"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NImagesProcessed, "an image with failed tiles is still processed")
	assert.Equal(t, 4, summary.NTilesFailed)
}

func TestInvalidSettings(t *testing.T) {
	s := testSettings(thresholdStep(30000), classifyStep(50))
	s.Options.PixelInMicrometer = 0
	_, err := New(s, newFakeReader(8, 8), nil, Options{})
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeConfiguration))
}

func TestTilePlan(t *testing.T) {
	big := &ome.PyramidLevel{ImageWidth: 10000, ImageHeight: 5000, Bits: 16, ImageMemoryUsage: 100_000_001}
	plan := NewTilePlan(big, 100_000_000, 4096)
	assert.True(t, plan.Tiled)
	assert.Equal(t, 3, plan.NrX)
	assert.Equal(t, 2, plan.NrY)
	assert.Equal(t, 6, plan.Count())
	assert.Equal(t, enums.TileId{TileX: 1, TileY: 1, TileWidth: 4096, TileHeight: 4096}, plan.Tile(4))

	small := NewTilePlan(&ome.PyramidLevel{ImageWidth: 100, ImageHeight: 50, Bits: 16}, 100_000_000, 4096)
	assert.False(t, small.Tiled)
	assert.Equal(t, 1, small.Count())
	assert.Equal(t, geometry.Size{Width: 100, Height: 50}, small.TileSize())

	noTiles := NewTilePlan(big, 1, 0)
	assert.False(t, noTiles.Tiled, "a tile size of 0 disables tiling")
}

func TestStackIndex(t *testing.T) {
	assert.Equal(t, 4, stackIterations(enums.StackEachIndividual, 4))
	assert.Equal(t, 1, stackIterations(enums.StackEachIndividual, 0))
	assert.Equal(t, 1, stackIterations(enums.StackExactOne, 4))

	z, ok := stackIndex(enums.StackEachIndividual, 0, 2)
	assert.True(t, ok)
	assert.Equal(t, int32(2), z)

	z, ok = stackIndex(enums.StackExactOne, 3, 0)
	assert.True(t, ok)
	assert.Equal(t, int32(3), z)
	_, ok = stackIndex(enums.StackExactOne, 3, 1)
	assert.False(t, ok)

	_, ok = stackIndex(enums.StackIntensityProjection, 0, 1)
	assert.False(t, ok)
}

func TestImageFolders(t *testing.T) {
	got := ImageFolders([]string{"/a/x.tif", "/b/x.tif", "/a/y.png", "/c/x.btf"})
	assert.Equal(t, []string{"x", "x_2", "y", "x_3"}, got)
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.tif", "a.png", "notes.txt", ".hidden/c.tif", "sub/d.tiff"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, nil, 0644))
	}
	images, err := ListImages(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.png"),
		filepath.Join(dir, "b.tif"),
		filepath.Join(dir, "sub", "d.tiff"),
	}, images)
}

func newTestContext(reader ImageReader, nrZ int) *ProcessContext {
	run := &imageRun{
		path:   "/data/z.tif",
		size:   geometry.Size{Width: 4, Height: 4},
		nrZ:    nrZ,
		memory: map[enums.MemoryIdx]memorySlot{},
	}
	tile := enums.TileId{TileWidth: 4, TileHeight: 4}
	return newProcessContext(context.Background(), reader, run, nil, tile, 0)
}

func TestContextClassId(t *testing.T) {
	pc := newTestContext(newFakeReader(4, 4), 1)
	pc.enterPipeline(2, settings.PipelineSetup{DefaultClassId: 7}, enums.PlaneId{})

	assert.Equal(t, enums.ClassId(7), pc.ClassId(enums.ClassInDefault))
	assert.Equal(t, enums.ClassId(3), pc.ClassId(enums.ClassIdIn(3)))
	assert.Equal(t, enums.ClassNone, pc.ClassId(enums.ClassInNone))
	temp := pc.ClassId(enums.ClassInTemp02)
	assert.True(t, temp.IsTemporary())
	assert.Equal(t, TempClass(2, 1), temp)
	assert.NotEqual(t, TempClass(1, 1), temp, "pipelines get their own scratch classes")
}

func TestContextMemoryScope(t *testing.T) {
	pc := newTestContext(newFakeReader(4, 4), 1)
	kept := img.NewImage16Filled(4, 4, 1)
	dropped := img.NewImage16Filled(4, 4, 2)
	pc.StoreImageToMemory(enums.M1, kept, enums.ScopePipeline)
	pc.StoreImageToMemory(enums.M2, dropped, enums.ScopeIteration)
	pc.EndIteration()

	got, err := pc.LoadImageFromCache(enums.ImageId{MemoryId: enums.M1})
	require.NoError(t, err)
	assert.Same(t, kept, got)
	_, err = pc.LoadImageFromCache(enums.ImageId{MemoryId: enums.M2})
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeProcessing))
}

type countingReader struct {
	*fakeReader
	loads int
}

func (c *countingReader) LoadImageTile(path string, plane enums.PlaneId, series, resolution int, tile enums.TileId, info *ome.OmeInfo) (*img.Image16, error) {
	c.loads++
	return c.fakeReader.LoadImageTile(path, plane, series, resolution, tile, info)
}

func TestContextProjection(t *testing.T) {
	base := newFakeReader(4, 4)
	base.nZ = 3
	for z, v := range []uint16{10, 30, 20} {
		base.planes[enums.PlaneId{ZStack: int32(z)}] = img.NewImage16Filled(4, 4, v)
	}
	reader := &countingReader{fakeReader: base}
	pc := newTestContext(reader, 3)
	pc.enterPipeline(0, settings.PipelineSetup{
		DefaultClassId: 1,
		ZStackHandling: enums.StackIntensityProjection,
		ZProjection:    enums.ZProjectionMax,
	}, enums.PlaneId{})

	maxImg, err := pc.LoadImageFromCache(enums.CurrentImage())
	require.NoError(t, err)
	assert.Equal(t, uint16(30), maxImg.At(1, 1))
	assert.Equal(t, 3, reader.loads)

	_, err = pc.LoadImageFromCache(enums.CurrentImage())
	require.NoError(t, err)
	assert.Equal(t, 3, reader.loads, "planes are cached within an iteration")

	middle, err := pc.LoadImageFromCache(enums.ImageId{ImagePlane: enums.CurrentPlane, ZProjection: enums.ZProjectionTakeMiddle, MemoryId: enums.MemoryNone})
	require.NoError(t, err)
	assert.Equal(t, uint16(30), middle.At(0, 0))

	pc.EndIteration()
	_, err = pc.LoadImageFromCache(enums.CurrentImage())
	require.NoError(t, err)
	assert.Equal(t, 7, reader.loads)
}

func TestControlImagePath(t *testing.T) {
	pc := newTestContext(newFakeReader(4, 4), 1)
	assert.Empty(t, pc.ControlImagePath("p0_"))
	pc.image.controlDir = "/out/img"
	pc.tileNr = 3
	pc.stepIdx = 2
	assert.Equal(t, filepath.Join("/out/img", "p0_control_2_3.png"), pc.ControlImagePath("p0_"))
	assert.Equal(t, uint32(1), pc.NextObjectIndex())
	assert.Equal(t, uint32(2), pc.NextObjectIndex())
}

func TestImagePool(t *testing.T) {
	runners := [][]*pipelineRun{{}, {}, {}}
	var mu sync.Mutex
	var done []string
	pool := NewImagePool(context.Background(), runners, func(_ context.Context, job ImageJob, _ []*pipelineRun) {
		mu.Lock()
		done = append(done, job.Folder)
		mu.Unlock()
	})
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(context.Background(), ImageJob{Folder: fmt.Sprintf("img_%d", i)}))
	}
	pool.Close()
	assert.Len(t, done, 10)
	assert.Contains(t, done, "img_9")
}

func TestImagePoolSubmitStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var handled atomic.Int32
	pool := NewImagePool(ctx, [][]*pipelineRun{{}}, func(context.Context, ImageJob, []*pipelineRun) {
		handled.Add(1)
		started <- struct{}{}
		<-release
	})

	require.NoError(t, pool.Submit(ctx, ImageJob{Folder: "a"}))
	<-started
	// The only worker is busy; this one fills the queue.
	require.NoError(t, pool.Submit(ctx, ImageJob{Folder: "b"}))

	errc := make(chan error, 1)
	go func() { errc <- pool.Submit(ctx, ImageJob{Folder: "c"}) }()
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.ErrorIs(t, pool.Submit(ctx, ImageJob{Folder: "d"}), context.Canceled)

	close(release)
	pool.Close()
	assert.Equal(t, int32(1), handled.Load(), "queued job is dropped after cancel")
}
