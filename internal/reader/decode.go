package reader

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"os"

	"imagec/internal/apperr"
	"imagec/pkg/geometry"

	"golang.org/x/image/tiff/lzw"
)

// TIFF compression schemes.
const (
	compressionNone     = 1
	compressionLZW      = 5
	compressionDeflate  = 8
	compressionPackBits = 32773
	compressionDeflate2 = 32946
)

// samplePlanes holds the decoded samples of a region, one slice per sample
// channel, each row-major with the region's width.
type samplePlanes struct {
	width   int
	height  int
	bits    int
	samples [][]uint16
}

// checkLayout rejects sample layouts the engine cannot turn into one 16-bit channel.
func (d *ifd) checkLayout() error {
	bits := d.bits()
	if bits != 8 && bits != 16 {
		return apperr.NewDecodeError(fmt.Sprintf("unsupported bit depth %d", bits), nil)
	}
	for _, b := range d.bitsPerSample {
		if b != bits {
			return apperr.NewDecodeError("mixed bits per sample are not supported", nil)
		}
	}
	switch d.samplesPerPixel {
	case 1, 3, 4:
	default:
		return apperr.NewDecodeError(fmt.Sprintf("unsupported samples per pixel %d", d.samplesPerPixel), nil)
	}
	if d.sampleFormat != 1 {
		return apperr.NewDecodeError(fmt.Sprintf("unsupported sample format %d", d.sampleFormat), nil)
	}
	switch d.photometric {
	case 0, 1:
		if d.samplesPerPixel != 1 {
			return apperr.NewDecodeError("gray image with more than one sample", nil)
		}
	case 2:
		if d.samplesPerPixel < 3 {
			return apperr.NewDecodeError("rgb image with less than three samples", nil)
		}
	default:
		return apperr.NewDecodeError(fmt.Sprintf("unsupported photometric interpretation %d", d.photometric), nil)
	}
	if d.planarConfig != planarChunky && d.planarConfig != planarPlanar {
		return apperr.NewDecodeError(fmt.Sprintf("unknown planar configuration %d", d.planarConfig), nil)
	}
	if d.predictor != 1 && d.predictor != 2 {
		return apperr.NewDecodeError(fmt.Sprintf("unsupported predictor %d", d.predictor), nil)
	}
	return nil
}

// readRegion decodes all chunks (strips or tiles) overlapping rect and
// returns the samples of rect only.
func (f *tiffFile) readRegion(r io.ReaderAt, d *ifd, rect geometry.RectInt) (*samplePlanes, error) {
	if err := d.checkLayout(); err != nil {
		return nil, err
	}
	rect = rect.Intersect(geometry.NewRectInt(0, 0, d.width, d.height))
	if rect.Empty() {
		return nil, apperr.NewDecodeError("requested region is outside the image", nil)
	}

	spp := d.samplesPerPixel
	out := &samplePlanes{width: rect.Width, height: rect.Height, bits: d.bits(), samples: make([][]uint16, spp)}
	for s := range out.samples {
		out.samples[s] = make([]uint16, rect.Width*rect.Height)
	}

	chunkW, chunkH := d.width, d.rowsPerStrip
	offsets, counts := d.stripOffsets, d.stripByteCounts
	if d.tiled() {
		chunkW, chunkH = d.tileWidth, d.tileHeight
		offsets, counts = d.tileOffsets, d.tileByteCounts
	}
	across := (d.width + chunkW - 1) / chunkW
	down := (d.height + chunkH - 1) / chunkH
	perPlane := across * down

	planes := 1
	chunkSpp := spp
	if d.planarConfig == planarPlanar {
		planes = spp
		chunkSpp = 1
	}
	if len(offsets) < perPlane*planes || len(counts) < perPlane*planes {
		return nil, apperr.NewDecodeError("chunk offsets do not cover the image", nil)
	}

	for cy := rect.Y / chunkH; cy <= (rect.Bottom()-1)/chunkH; cy++ {
		for cx := rect.X / chunkW; cx <= (rect.Right()-1)/chunkW; cx++ {
			chunkRect := geometry.NewRectInt(cx*chunkW, cy*chunkH, chunkW, chunkH)
			rows := chunkH
			if !d.tiled() {
				rows = min(chunkH, d.height-cy*chunkH)
			}
			for p := 0; p < planes; p++ {
				idx := p*perPlane + cy*across + cx
				raw, err := f.readChunk(r, d, offsets[idx], counts[idx])
				if err != nil {
					return nil, err
				}
				vals, err := f.unpack(raw, d, chunkW, rows, chunkSpp)
				if err != nil {
					return nil, err
				}
				copyChunk(out, rect, chunkRect, vals, chunkW, rows, chunkSpp, p)
			}
		}
	}
	return out, nil
}

// maxChunkBytes limits a strip or tile when the size of the source is unknown.
const maxChunkBytes = 1 << 28

// readerSize returns the size of r, or -1 when r cannot tell.
func readerSize(r io.ReaderAt) int64 {
	switch s := r.(type) {
	case interface{ Size() int64 }:
		return s.Size()
	case interface{ Stat() (os.FileInfo, error) }:
		if fi, err := s.Stat(); err == nil {
			return fi.Size()
		}
	}
	return -1
}

// checkExtent rejects a byte range that does not lie inside r.
func checkExtent(r io.ReaderAt, offset, count uint64) error {
	size := readerSize(r)
	if size < 0 {
		if count > maxChunkBytes {
			return apperr.NewDecodeError(fmt.Sprintf("image data of %d bytes exceeds %d", count, maxChunkBytes), nil)
		}
		return nil
	}
	if offset > uint64(size) || count > uint64(size)-offset {
		return apperr.NewDecodeError(fmt.Sprintf("image data %d+%d exceeds file size %d", offset, count, size), nil)
	}
	return nil
}

func (f *tiffFile) readChunk(r io.ReaderAt, d *ifd, offset, count uint64) ([]byte, error) {
	if err := checkExtent(r, offset, count); err != nil {
		return nil, err
	}
	raw := make([]byte, count)
	if _, err := r.ReadAt(raw, int64(offset)); err != nil && err != io.EOF {
		return nil, apperr.NewDecodeError("read image data", err)
	}
	switch d.compression {
	case compressionNone:
		return raw, nil
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil && len(data) == 0 {
			return nil, apperr.NewDecodeError("lzw", err)
		}
		return data, nil
	case compressionDeflate, compressionDeflate2:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, apperr.NewDecodeError("deflate", err)
		}
		defer zr.Close()
		data, err := io.ReadAll(zr)
		if err != nil {
			return nil, apperr.NewDecodeError("deflate", err)
		}
		return data, nil
	case compressionPackBits:
		return unpackBits(raw)
	}
	return nil, apperr.NewDecodeError(fmt.Sprintf("unsupported compression %d", d.compression), nil)
}

// unpack converts raw chunk bytes to samples in file byte order and undoes
// the horizontal predictor.
func (f *tiffFile) unpack(raw []byte, d *ifd, w, rows, spp int) ([]uint16, error) {
	bps := d.bits() / 8
	n := w * rows * spp
	if len(raw) < n*bps {
		return nil, apperr.NewDecodeError(fmt.Sprintf("chunk too short: %d < %d bytes", len(raw), n*bps), nil)
	}
	vals := make([]uint16, n)
	if bps == 1 {
		for i := range vals {
			vals[i] = uint16(raw[i])
		}
	} else {
		for i := range vals {
			vals[i] = f.order.Uint16(raw[i*2:])
		}
	}
	if d.predictor == 2 {
		mask := uint16(0xFFFF)
		if bps == 1 {
			mask = 0xFF
		}
		rowLen := w * spp
		for y := 0; y < rows; y++ {
			row := vals[y*rowLen : (y+1)*rowLen]
			for i := spp; i < rowLen; i++ {
				row[i] = (row[i] + row[i-spp]) & mask
			}
		}
	}
	return vals, nil
}

func copyChunk(out *samplePlanes, rect, chunk geometry.RectInt, vals []uint16, chunkW, rows, chunkSpp, plane int) {
	chunk.Height = rows
	area := rect.Intersect(chunk)
	for y := area.Y; y < area.Bottom(); y++ {
		for x := area.X; x < area.Right(); x++ {
			src := ((y-chunk.Y)*chunkW + (x - chunk.X)) * chunkSpp
			dst := (y-rect.Y)*rect.Width + (x - rect.X)
			if chunkSpp == 1 {
				out.samples[plane][dst] = vals[src]
				continue
			}
			for s := 0; s < chunkSpp; s++ {
				out.samples[s][dst] = vals[src+s]
			}
		}
	}
}

// unpackBits decodes the PackBits run length encoding.
func unpackBits(src []byte) ([]byte, error) {
	var dst []byte
	for i := 0; i < len(src); {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			end := i + n + 1
			if end > len(src) {
				return nil, apperr.NewDecodeError("packbits literal run exceeds input", nil)
			}
			dst = append(dst, src[i:end]...)
			i = end
		case n > -128:
			if i >= len(src) {
				return nil, apperr.NewDecodeError("packbits repeat run exceeds input", nil)
			}
			for k := 0; k < 1-n; k++ {
				dst = append(dst, src[i])
			}
			i++
		}
	}
	return dst, nil
}
