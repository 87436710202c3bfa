// Package reader loads planes, tiles and thumbnails of microscopy images as
// 16-bit single channel buffers. One Reader is shared by all workers of a
// process; every call is serialised on its lock.
package reader

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"
	"sync"

	"imagec/internal/apperr"
	"imagec/internal/enums"
	img "imagec/internal/image"
	"imagec/internal/logger"
	"imagec/internal/ome"
	"imagec/pkg/geometry"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

const (
	// MaxThumbnailSourceBytes is the largest pyramid level used for thumbnails.
	MaxThumbnailSourceBytes = 800 * 1024 * 1024
	// ThumbnailSize is the edge length a thumbnail is fitted into.
	ThumbnailSize = 1024
)

// Reader is the process wide image reader.
type Reader struct {
	mu     sync.Mutex
	budget int64
	tiffs  map[string]*tiffFile
	closed bool
}

var (
	instance     *Reader
	instanceOnce sync.Once
)

// Init creates the process wide reader with a RAM budget in bytes. Later
// calls return the same instance.
func Init(budget int64) *Reader {
	instanceOnce.Do(func() {
		instance = New(budget)
	})
	return instance
}

// New creates an independent reader. Most callers want Init.
func New(budget int64) *Reader {
	return &Reader{budget: budget, tiffs: map[string]*tiffFile{}}
}

// Close releases the cached file structures.
func (r *Reader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiffs = map[string]*tiffFile{}
	r.closed = true
}

func (r *Reader) structure(path string) (*tiffFile, error) {
	if f, ok := r.tiffs[path]; ok {
		return f, nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, apperr.NewDecodeError("cannot open image", err)
	}
	defer fh.Close()
	f, err := parseTIFF(fh)
	if err != nil {
		return nil, apperr.NewDecodeError("cannot parse tiff", err)
	}
	r.tiffs[path] = f
	return f, nil
}

// GetOmeInformation reads the image metadata. TIFF files carrying OME-XML in
// their image description use it; everything else gets a synthesized info.
func (r *Reader) GetOmeInformation(path string, defaults ome.PhysicalSize) (*ome.OmeInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, apperr.NewResourceError("reader is closed", nil)
	}

	if !img.IsTIFF(path) {
		return r.plainInfo(path, defaults)
	}

	f, err := r.structure(path)
	if err != nil {
		return nil, err
	}
	first := f.ifds[0]
	if strings.Contains(first.description, "<OME") || strings.Contains(first.description, ":OME") {
		info, err := ome.Parse([]byte(first.description), defaults)
		if err != nil {
			logger.WithFields(logrus.Fields{"image": path}).WithError(err).Warn("invalid OME-XML, using tiff structure")
		} else if !info.Empty() {
			r.completeFromTIFF(info, f)
			return info, nil
		}
	}

	info := ome.New(&ome.ImageInfo{
		Name:           path,
		NrOfChannels:   len(f.ifds),
		NrOfZStacks:    1,
		NrOfTStacks:    1,
		DimensionOrder: "XYCZT",
		PhysicalSize:   defaults,
		Channels:       map[int]ome.ChannelInfo{},
		Resolutions:    map[int]*ome.PyramidLevel{},
	})
	for c := range f.ifds {
		info.SetChannel(0, ome.ChannelInfo{Id: c, Name: fmt.Sprintf("Channel %d", c)})
	}
	r.completeFromTIFF(info, f)
	return info, nil
}

// completeFromTIFF adds pyramid levels read from the IFDs of each series'
// first plane when the metadata did not bring a pyramid block.
func (r *Reader) completeFromTIFF(info *ome.OmeInfo, f *tiffFile) {
	for s := 0; s < info.NrOfSeries(); s++ {
		if info.ResolutionCount(s) > 1 {
			continue
		}
		idx := seriesFirstIFD(info, s)
		if idx >= len(f.ifds) {
			continue
		}
		d := f.ifds[idx]
		info.SetResolution(s, 0, levelOf(d, f.littleEndian))
		for i, sub := range d.subIFDs {
			info.SetResolution(s, i+1, levelOf(sub, f.littleEndian))
		}
	}
}

func levelOf(d *ifd, little bool) *ome.PyramidLevel {
	tw, th := d.width, d.rowsPerStrip
	if d.tiled() {
		tw, th = d.tileWidth, d.tileHeight
	}
	bits := d.bits()
	return &ome.PyramidLevel{
		ImageWidth:       d.width,
		ImageHeight:      d.height,
		Bits:             bits,
		RGBChannelCount:  d.samplesPerPixel,
		OptimalTileW:     tw,
		OptimalTileH:     th,
		IsInterleaved:    d.planarConfig == planarChunky && d.samplesPerPixel > 1,
		IsLittleEndian:   little,
		ImageMemoryUsage: int64(d.width) * int64(d.height) * int64(bits) / 8 * int64(d.samplesPerPixel),
	}
}

// seriesFirstIFD returns the IFD index of plane (0,0,0) of a series. Series
// are stored one after another.
func seriesFirstIFD(info *ome.OmeInfo, series int) int {
	idx := 0
	for s := 0; s < series; s++ {
		idx += info.NrOfChannels(s) * info.NrOfZStacks(s) * info.NrOfTStacks(s)
	}
	return idx
}

func (r *Reader) plainInfo(path string, defaults ome.PhysicalSize) (*ome.OmeInfo, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, apperr.NewDecodeError("cannot open image", err)
	}
	defer fh.Close()
	cfg, _, err := image.DecodeConfig(fh)
	if err != nil {
		return nil, apperr.NewDecodeError("cannot decode image header", err)
	}
	bits := 8
	switch cfg.ColorModel {
	case color.Gray16Model, color.RGBA64Model, color.NRGBA64Model:
		bits = 16
	}
	info := ome.New(&ome.ImageInfo{
		Name:           path,
		NrOfChannels:   1,
		NrOfZStacks:    1,
		NrOfTStacks:    1,
		DimensionOrder: "XYZCT",
		PhysicalSize:   defaults,
		Channels:       map[int]ome.ChannelInfo{0: {Id: 0, Name: "Channel 0"}},
		Resolutions: map[int]*ome.PyramidLevel{0: {
			ImageWidth:       cfg.Width,
			ImageHeight:      cfg.Height,
			Bits:             bits,
			RGBChannelCount:  1,
			OptimalTileW:     cfg.Width,
			OptimalTileH:     cfg.Height,
			IsLittleEndian:   true,
			ImageMemoryUsage: int64(cfg.Width) * int64(cfg.Height) * int64(bits) / 8,
		}},
	})
	return info, nil
}

// LoadEntireImage loads one full plane of a series at the given resolution.
func (r *Reader) LoadEntireImage(path string, plane enums.PlaneId, series, resolution int, info *ome.OmeInfo) (*img.Image16, error) {
	lvl, err := info.Resolution(series, resolution)
	if err != nil {
		return nil, apperr.NewDecodeError("missing resolution", err)
	}
	return r.loadRegion(path, plane, series, resolution, geometry.NewRectInt(0, 0, lvl.ImageWidth, lvl.ImageHeight), info)
}

// LoadImageTile loads one tile. Tiles at the right and bottom edge are clipped
// to the image and therefore smaller.
func (r *Reader) LoadImageTile(path string, plane enums.PlaneId, series, resolution int, tile enums.TileId, info *ome.OmeInfo) (*img.Image16, error) {
	lvl, err := info.Resolution(series, resolution)
	if err != nil {
		return nil, apperr.NewDecodeError("missing resolution", err)
	}
	x, y := tile.Offset()
	rect := geometry.NewRectInt(x, y, tile.TileWidth, tile.TileHeight).
		Intersect(geometry.NewRectInt(0, 0, lvl.ImageWidth, lvl.ImageHeight))
	if rect.Empty() {
		return nil, apperr.NewDecodeError(fmt.Sprintf("tile %s outside of image", tile), nil)
	}
	return r.loadRegion(path, plane, series, resolution, rect, info)
}

func (r *Reader) loadRegion(path string, plane enums.PlaneId, series, resolution int, rect geometry.RectInt, info *ome.OmeInfo) (*img.Image16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, apperr.NewResourceError("reader is closed", nil)
	}

	if need := int64(rect.Area()) * 2 * 4; r.budget > 0 && need > r.budget {
		return nil, apperr.NewResourceError(
			fmt.Sprintf("region %dx%d needs %d bytes, budget is %d", rect.Width, rect.Height, need, r.budget), nil)
	}

	if !img.IsTIFF(path) {
		full, err := img.Load(path)
		if err != nil {
			return nil, apperr.NewDecodeError("cannot decode image", err)
		}
		return full.Crop(rect), nil
	}

	f, err := r.structure(path)
	if err != nil {
		return nil, err
	}
	ifdIdx := seriesFirstIFD(info, series) + info.PlaneIndex(series, int(plane.ZStack), int(plane.CStack), int(plane.TStack))
	if ifdIdx < 0 || ifdIdx >= len(f.ifds) {
		return nil, apperr.NewDecodeError(fmt.Sprintf("plane %s not found (ifd %d of %d)", plane, ifdIdx, len(f.ifds)), nil)
	}
	d := f.ifds[ifdIdx]
	if resolution > 0 {
		if resolution > len(d.subIFDs) {
			return nil, apperr.NewDecodeError(fmt.Sprintf("resolution %d not stored in file", resolution), nil)
		}
		d = d.subIFDs[resolution-1]
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, apperr.NewDecodeError("cannot open image", err)
	}
	defer fh.Close()

	samples, err := f.readRegion(fh, d, rect)
	if err != nil {
		return nil, err
	}
	out, err := samples.toImage16(d.photometric)
	if err != nil {
		return nil, apperr.NewDecodeError("convert samples", err)
	}
	return out, nil
}

// LoadThumbnail loads the smallest pyramid level that fits the thumbnail
// budget and fits it into ThumbnailSize x ThumbnailSize.
func (r *Reader) LoadThumbnail(path string, plane enums.PlaneId, series int, info *ome.OmeInfo) (*img.Image16, error) {
	candidates := []int{series}
	for s := 0; s < info.NrOfSeries(); s++ {
		if s != series {
			candidates = append(candidates, s)
		}
	}
	for _, s := range candidates {
		resolution := -1
		for i := info.ResolutionCount(s) - 1; i >= 0; i-- {
			lvl, err := info.Resolution(s, i)
			if err != nil {
				continue
			}
			if lvl.ImageMemoryUsage <= MaxThumbnailSourceBytes {
				resolution = i
				break
			}
		}
		if resolution < 0 {
			continue
		}
		full, err := r.LoadEntireImage(path, plane, s, resolution, info)
		if err != nil {
			return nil, err
		}
		return fitInto(full, ThumbnailSize)
	}
	return nil, apperr.NewResourceError("no pyramid level small enough for a thumbnail", nil)
}

func fitInto(src *img.Image16, size int) (*img.Image16, error) {
	if src.Width <= size && src.Height <= size {
		return src, nil
	}
	scale := float64(size) / float64(max(src.Width, src.Height))
	w := max(1, int(float64(src.Width)*scale))
	h := max(1, int(float64(src.Height)*scale))

	mat, err := src.ToMat()
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(mat, &dst, image.Point{X: w, Y: h}, 0, 0, gocv.InterpolationArea)
	return img.FromMat(dst)
}
