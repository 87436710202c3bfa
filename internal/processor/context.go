package processor

import (
	"context"
	"fmt"
	"image/color"
	"path/filepath"

	"imagec/internal/apperr"
	"imagec/internal/enums"
	img "imagec/internal/image"
	"imagec/internal/ome"
	"imagec/internal/settings"
	"imagec/pkg/colorutil"
	"imagec/pkg/geometry"
)

// ImageReader loads metadata and tiles of an image. *reader.Reader
// implements it.
type ImageReader interface {
	GetOmeInformation(path string, defaults ome.PhysicalSize) (*ome.OmeInfo, error)
	LoadImageTile(path string, plane enums.PlaneId, series, resolution int, tile enums.TileId, info *ome.OmeInfo) (*img.Image16, error)
}

type memorySlot struct {
	image *img.Image16
	scope enums.MemoryScope
}

// imageRun is the state shared by all tiles and iterations of one image.
type imageRun struct {
	path       string
	info       *ome.OmeInfo
	series     int
	size       geometry.Size
	nrZ        int
	memory     map[enums.MemoryIdx]memorySlot
	nextIndex  uint32
	controlDir string
}

// TempClass is the concrete class the scratch slot of a pipeline maps to.
// Every pipeline gets its own range so temporaries never mix.
func TempClass(pipelineIdx, slot int) enums.ClassId {
	return enums.ReservedForTempStart + enums.ClassId(pipelineIdx*enums.NrOfTempSlots+slot)
}

// ProcessContext is the state of one tile while the pipelines run over its
// (t, z) iterations. It implements command.Context.
type ProcessContext struct {
	ctx     context.Context
	reader  ImageReader
	image   *imageRun
	palette colorutil.Palette

	tile   enums.TileId
	tileNr int

	pipelineIdx int
	setup       settings.PipelineSetup
	plane       enums.PlaneId
	stepIdx     int

	cache      map[enums.ImageId]*img.Image16
	appliedMin uint16
	appliedMax uint16
}

func newProcessContext(ctx context.Context, reader ImageReader, run *imageRun, palette colorutil.Palette, tile enums.TileId, tileNr int) *ProcessContext {
	return &ProcessContext{
		ctx:     ctx,
		reader:  reader,
		image:   run,
		palette: palette,
		tile:    tile,
		tileNr:  tileNr,
		cache:   map[enums.ImageId]*img.Image16{},
	}
}

// enterPipeline switches the context to pipeline idx working on plane.
func (c *ProcessContext) enterPipeline(idx int, setup settings.PipelineSetup, plane enums.PlaneId) {
	c.pipelineIdx = idx
	c.setup = setup
	c.plane = plane
	c.stepIdx = 0
	c.appliedMin, c.appliedMax = 0, 0
}

// EndIteration drops the iteration cache and the ITERATION scoped memory
// slots.
func (c *ProcessContext) EndIteration() {
	c.cache = map[enums.ImageId]*img.Image16{}
	for idx, slot := range c.image.memory {
		if slot.scope == enums.ScopeIteration {
			delete(c.image.memory, idx)
		}
	}
}

func (c *ProcessContext) Ctx() context.Context { return c.ctx }
func (c *ProcessContext) ActIterator() enums.PlaneId { return c.plane }
func (c *ProcessContext) TileInfo() enums.TileId { return c.tile }
func (c *ProcessContext) ImageSize() geometry.Size { return c.image.size }
func (c *ProcessContext) AppliedMinThreshold() uint16 {
	return c.appliedMin
}

func (c *ProcessContext) SetAppliedThreshold(lo, hi uint16) {
	c.appliedMin, c.appliedMax = lo, hi
}

// ClassId resolves a class reference of the running pipeline.
func (c *ProcessContext) ClassId(in enums.ClassIdIn) enums.ClassId {
	switch {
	case in == enums.ClassInDefault:
		return c.setup.DefaultClassId
	case in == enums.ClassInNone:
		return enums.ClassNone
	case in == enums.ClassInUndefined:
		return enums.ClassUndefined
	case in.IsTemp():
		return TempClass(c.pipelineIdx, in.TempSlot())
	}
	return enums.ClassId(in)
}

// CorrectIteration replaces negative coordinates with the running plane.
func (c *ProcessContext) CorrectIteration(p enums.PlaneId) enums.PlaneId {
	if p.TStack < 0 {
		p.TStack = c.plane.TStack
	}
	if p.ZStack < 0 {
		p.ZStack = c.plane.ZStack
	}
	if p.CStack < 0 {
		p.CStack = c.plane.CStack
	}
	return p
}

func (c *ProcessContext) projection(z enums.ZProjection) enums.ZProjection {
	if z != enums.ZProjectionDefault {
		return z
	}
	if c.setup.ZStackHandling == enums.StackIntensityProjection {
		return c.setup.ZProjection
	}
	return enums.ZProjectionNone
}

// LoadImageFromCache returns a memory slot or a plane of the running tile.
// Planes are loaded once per iteration. The result must not be modified.
func (c *ProcessContext) LoadImageFromCache(id enums.ImageId) (*img.Image16, error) {
	if id.MemoryId != enums.MemoryNone {
		slot, ok := c.image.memory[id.MemoryId]
		if !ok {
			return nil, apperr.NewProcessingError(fmt.Sprintf("memory slot %s is empty", id.MemoryId), nil)
		}
		return slot.image, nil
	}
	key := enums.ImageId{
		ImagePlane:  c.CorrectIteration(id.ImagePlane),
		ZProjection: c.projection(id.ZProjection),
		MemoryId:    enums.MemoryNone,
	}
	if cached, ok := c.cache[key]; ok {
		return cached, nil
	}
	loaded, err := c.load(key)
	if err != nil {
		return nil, err
	}
	c.cache[key] = loaded
	return loaded, nil
}

func (c *ProcessContext) loadPlane(p enums.PlaneId) (*img.Image16, error) {
	return c.reader.LoadImageTile(c.image.path, p, c.image.series, 0, c.tile, c.image.info)
}

func (c *ProcessContext) load(key enums.ImageId) (*img.Image16, error) {
	plane := key.ImagePlane
	switch key.ZProjection {
	case enums.ZProjectionNone:
		return c.loadPlane(plane)
	case enums.ZProjectionTakeMiddle:
		plane.ZStack = int32(c.image.nrZ / 2)
		return c.loadPlane(plane)
	}

	var proj *img.Projector
	for z := 0; z < max(c.image.nrZ, 1); z++ {
		plane.ZStack = int32(z)
		layer, err := c.loadPlane(plane)
		if err != nil {
			return nil, err
		}
		if proj == nil {
			if proj, err = img.NewProjector(key.ZProjection, layer.Width, layer.Height); err != nil {
				return nil, apperr.NewProcessingError("z projection", err)
			}
			defer proj.Close()
		}
		if err := proj.Add(layer); err != nil {
			return nil, apperr.NewProcessingError("z projection", err)
		}
	}
	out, err := proj.Render()
	if err != nil {
		return nil, apperr.NewProcessingError("z projection", err)
	}
	return out, nil
}

// StoreImageToMemory keeps image in slot idx. ITERATION scoped slots are
// dropped by EndIteration.
func (c *ProcessContext) StoreImageToMemory(idx enums.MemoryIdx, image *img.Image16, scope enums.MemoryScope) {
	c.image.memory[idx] = memorySlot{image: image, scope: scope}
}

// NextObjectIndex returns the next ROI index of the image, starting at 1.
func (c *ProcessContext) NextObjectIndex() uint32 {
	c.image.nextIndex++
	return c.image.nextIndex
}

// ControlImagePath names the control image of the running step.
func (c *ProcessContext) ControlImagePath(prefix string) string {
	if c.image.controlDir == "" {
		return ""
	}
	return filepath.Join(c.image.controlDir, fmt.Sprintf("%scontrol_%d_%d.png", prefix, c.stepIdx, c.tileNr))
}

func (c *ProcessContext) ClassColor(class enums.ClassId) color.RGBA {
	return c.palette.Color(uint16(class))
}
