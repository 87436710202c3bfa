package reader

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"imagec/internal/apperr"
	"imagec/internal/enums"
	"imagec/internal/ome"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

type tiffSpec struct {
	order     binary.ByteOrder
	width     int
	height    int
	bits      int
	spp       int
	planar    int
	photo     int
	strips    [][]byte
	rowsStrip int
}

// writeTIFF builds a minimal uncompressed classic TIFF with one IFD.
func writeTIFF(t *testing.T, path string, s tiffSpec) {
	t.Helper()
	type entry struct {
		tag, typ uint16
		vals     []uint32
	}
	offsets := make([]uint32, len(s.strips))
	counts := make([]uint32, len(s.strips))
	bps := make([]uint32, s.spp)
	for i := range bps {
		bps[i] = uint32(s.bits)
	}
	entries := []entry{
		{256, 4, []uint32{uint32(s.width)}},
		{257, 4, []uint32{uint32(s.height)}},
		{258, 3, bps},
		{259, 3, []uint32{1}},
		{262, 3, []uint32{uint32(s.photo)}},
		{273, 4, offsets},
		{277, 3, []uint32{uint32(s.spp)}},
		{278, 4, []uint32{uint32(s.rowsStrip)}},
		{279, 4, counts},
		{284, 3, []uint32{uint32(s.planar)}},
	}

	ifdSize := 2 + len(entries)*12 + 4
	extraStart := 8 + ifdSize
	// Out of line values go after the IFD, then the strip data.
	extra := []byte{}
	extraOffset := map[int]uint32{}
	size := func(typ uint16) int {
		if typ == 3 {
			return 2
		}
		return 4
	}
	dataStart := extraStart
	for i, e := range entries {
		if len(e.vals)*size(e.typ) > 4 {
			dataStart += len(e.vals) * size(e.typ)
			_ = i
		}
	}
	pos := uint32(dataStart)
	for i, st := range s.strips {
		offsets[i] = pos
		counts[i] = uint32(len(st))
		pos += uint32(len(st))
	}

	buf := make([]byte, 8)
	if s.order == binary.BigEndian {
		copy(buf, "MM")
	} else {
		copy(buf, "II")
	}
	s.order.PutUint16(buf[2:], 42)
	s.order.PutUint32(buf[4:], 8)

	ifd := make([]byte, ifdSize)
	s.order.PutUint16(ifd, uint16(len(entries)))
	for i, e := range entries {
		ent := ifd[2+i*12 : 2+(i+1)*12]
		s.order.PutUint16(ent[0:], e.tag)
		s.order.PutUint16(ent[2:], e.typ)
		s.order.PutUint32(ent[4:], uint32(len(e.vals)))
		raw := make([]byte, len(e.vals)*size(e.typ))
		for j, v := range e.vals {
			if e.typ == 3 {
				s.order.PutUint16(raw[j*2:], uint16(v))
			} else {
				s.order.PutUint32(raw[j*4:], v)
			}
		}
		if len(raw) <= 4 {
			copy(ent[8:], raw)
		} else {
			extraOffset[i] = uint32(extraStart + len(extra))
			s.order.PutUint32(ent[8:], extraOffset[i])
			extra = append(extra, raw...)
		}
	}
	out := append(buf, ifd...)
	out = append(out, extra...)
	for _, st := range s.strips {
		out = append(out, st...)
	}
	require.NoError(t, os.WriteFile(path, out, 0644))
}

func TestBigEndian16BitIsSwapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "be.tif")
	data := make([]byte, 8)
	for i, v := range []uint16{1, 256, 4660, 65535} {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	writeTIFF(t, path, tiffSpec{order: binary.BigEndian, width: 2, height: 2, bits: 16, spp: 1, planar: 1, photo: 1, strips: [][]byte{data}, rowsStrip: 2})

	r := New(0)
	info, err := r.GetOmeInformation(path, ome.PhysicalSize{})
	require.NoError(t, err)
	lvl, err := info.Resolution(0, 0)
	require.NoError(t, err)
	assert.False(t, lvl.IsLittleEndian)

	im, err := r.LoadEntireImage(path, enums.PlaneId{}, 0, 0, info)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 256, 4660, 65535}, im.Pix)
}

func TestEightBitIsScaled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gray8.tif")
	g := image.NewGray(image.Rect(0, 0, 3, 1))
	g.Pix = []uint8{0, 1, 255}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, g, nil))
	require.NoError(t, f.Close())

	r := New(0)
	info, err := r.GetOmeInformation(path, ome.PhysicalSize{})
	require.NoError(t, err)
	assert.Equal(t, 8, info.Bits(0))

	im, err := r.LoadEntireImage(path, enums.PlaneId{}, 0, 0, info)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 257, 65535}, im.Pix)
}

func TestDeflateGray16AndTiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gray16.tif")
	g := image.NewGray16(image.Rect(0, 0, 100, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 100; x++ {
			g.SetGray16(x, y, color.Gray16{Y: uint16(y*100 + x)})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, g, &tiff.Options{Compression: tiff.Deflate}))
	require.NoError(t, f.Close())

	r := New(0)
	info, err := r.GetOmeInformation(path, ome.PhysicalSize{})
	require.NoError(t, err)

	tile, err := r.LoadImageTile(path, enums.PlaneId{}, 0, 0, enums.TileId{TileX: 1, TileY: 0, TileWidth: 64, TileHeight: 64}, info)
	require.NoError(t, err)
	assert.Equal(t, 36, tile.Width)
	assert.Equal(t, 60, tile.Height)
	assert.Equal(t, uint16(64), tile.At(0, 0))
	assert.Equal(t, uint16(59*100+99), tile.At(35, 59))

	_, err = r.LoadImageTile(path, enums.PlaneId{}, 0, 0, enums.TileId{TileX: 2, TileY: 0, TileWidth: 64, TileHeight: 64}, info)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeDecode))
}

func TestPlanarRGBIsMergedToGray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planar.tif")
	// 2x1 pixels, one strip per sample plane: R, G, B.
	r8 := []byte{255, 0}
	g8 := []byte{255, 0}
	b8 := []byte{255, 0}
	writeTIFF(t, path, tiffSpec{order: binary.LittleEndian, width: 2, height: 1, bits: 8, spp: 3, planar: 2, photo: 2, strips: [][]byte{r8, g8, b8}, rowsStrip: 1})

	r := New(0)
	info, err := r.GetOmeInformation(path, ome.PhysicalSize{})
	require.NoError(t, err)
	im, err := r.LoadEntireImage(path, enums.PlaneId{}, 0, 0, info)
	require.NoError(t, err)
	assert.InDelta(t, 65535, float64(im.At(0, 0)), 2)
	assert.Equal(t, uint16(0), im.At(1, 0))
}

func TestUnknownLayoutIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "two.tif")
	writeTIFF(t, path, tiffSpec{order: binary.LittleEndian, width: 1, height: 1, bits: 8, spp: 2, planar: 1, photo: 1, strips: [][]byte{{1, 2}}, rowsStrip: 1})

	r := New(0)
	info, err := r.GetOmeInformation(path, ome.PhysicalSize{})
	require.NoError(t, err)
	_, err = r.LoadEntireImage(path, enums.PlaneId{}, 0, 0, info)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeDecode))
}

func TestMultiPageTIFFPagesAreChannels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.tif")
	writeTIFF(t, path, tiffSpec{order: binary.LittleEndian, width: 1, height: 1, bits: 8, spp: 1, planar: 1, photo: 1, strips: [][]byte{{9}}, rowsStrip: 1})
	r := New(0)
	info, err := r.GetOmeInformation(path, ome.PhysicalSize{})
	require.NoError(t, err)
	assert.Equal(t, 1, info.NrOfChannels(0))

	_, err = r.LoadEntireImage(path, enums.PlaneId{CStack: 1}, 0, 0, info)
	assert.Error(t, err)
}

func TestBudgetExceeded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.tif")
	writeTIFF(t, path, tiffSpec{order: binary.LittleEndian, width: 4, height: 4, bits: 8, spp: 1, planar: 1, photo: 1, strips: [][]byte{make([]byte, 16)}, rowsStrip: 4})
	r := New(16)
	info, err := r.GetOmeInformation(path, ome.PhysicalSize{})
	require.NoError(t, err)
	_, err = r.LoadEntireImage(path, enums.PlaneId{}, 0, 0, info)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeResource))
}

func TestThumbnailIsFitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wide.tif")
	g := image.NewGray16(image.Rect(0, 0, 2048, 64))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, g, nil))
	require.NoError(t, f.Close())

	r := New(0)
	info, err := r.GetOmeInformation(path, ome.PhysicalSize{})
	require.NoError(t, err)
	th, err := r.LoadThumbnail(path, enums.PlaneId{}, 0, info)
	require.NoError(t, err)
	assert.Equal(t, 1024, th.Width)
	assert.Equal(t, 32, th.Height)
}

func TestPNGInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.png")
	writePNG(t, path, image.NewGray16(image.Rect(0, 0, 5, 3)))
	r := New(0)
	info, err := r.GetOmeInformation(path, ome.PhysicalSize{})
	require.NoError(t, err)
	assert.Equal(t, 16, info.Bits(0))
	w, h := info.Size(0)
	assert.Equal(t, 5, w)
	assert.Equal(t, 3, h)

	im, err := r.LoadImageTile(path, enums.PlaneId{}, 0, 0, enums.TileId{TileWidth: 4, TileHeight: 4}, info)
	require.NoError(t, err)
	assert.Equal(t, 4, im.Width)
	assert.Equal(t, 3, im.Height)
}

func TestUnpackBits(t *testing.T) {
	// Example from the TIFF 6.0 specification.
	src := []byte{0xFE, 0xAA, 0x02, 0x80, 0x00, 0x2A, 0xFD, 0xAA, 0x03, 0x80, 0x00, 0x2A, 0x22, 0xF7, 0xAA}
	want := []byte{0xAA, 0xAA, 0xAA, 0x80, 0x00, 0x2A, 0xAA, 0xAA, 0xAA, 0xAA, 0x80, 0x00, 0x2A, 0x22,
		0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}
	got, err := unpackBits(src)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestChunkOutsideFileIsRejected(t *testing.T) {
	f := &tiffFile{order: binary.LittleEndian, littleEndian: true}
	d := &ifd{compression: compressionNone}
	data := bytes.NewReader(make([]byte, 64))

	raw, err := f.readChunk(data, d, 16, 32)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	_, err = f.readChunk(data, d, 16, 1<<32)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeDecode))
	_, err = f.readChunk(data, d, 100, 1)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeDecode))
}

func TestTruncatedStripIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.tif")
	writeTIFF(t, path, tiffSpec{order: binary.LittleEndian, width: 4, height: 4, bits: 8, spp: 1, planar: 1, photo: 1, strips: [][]byte{make([]byte, 16)}, rowsStrip: 4})
	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, fi.Size()-8))

	r := New(0)
	info, err := r.GetOmeInformation(path, ome.PhysicalSize{})
	require.NoError(t, err)
	_, err = r.LoadEntireImage(path, enums.PlaneId{}, 0, 0, info)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeDecode))
}
