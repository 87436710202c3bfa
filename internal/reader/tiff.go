package reader

import (
	"encoding/binary"
	"fmt"
	"io"
)

// TIFF tags read by the decoder.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagImageDesc       = 270
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSubIFDs         = 330
	tagSampleFormat    = 339
)

// TIFF field types.
const (
	typeByte     = 1
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
	typeUndef    = 7
	typeIFD      = 13
)

const (
	planarChunky = 1
	planarPlanar = 2
)

// ifd is one parsed image file directory.
type ifd struct {
	width           int
	height          int
	bitsPerSample   []int
	samplesPerPixel int
	compression     int
	photometric     int
	planarConfig    int
	predictor       int
	sampleFormat    int
	rowsPerStrip    int
	stripOffsets    []uint64
	stripByteCounts []uint64
	tileWidth       int
	tileHeight      int
	tileOffsets     []uint64
	tileByteCounts  []uint64
	description     string
	subIFDs         []*ifd
}

func (d *ifd) tiled() bool {
	return d.tileWidth > 0 && d.tileHeight > 0
}

func (d *ifd) bits() int {
	if len(d.bitsPerSample) == 0 {
		return 1
	}
	return d.bitsPerSample[0]
}

// tiffFile is the directory structure of a TIFF file.
type tiffFile struct {
	order        binary.ByteOrder
	littleEndian bool
	ifds         []*ifd
}

// parseTIFF walks the IFD chain of a classic TIFF. Sub-IFDs are parsed one level deep.
func parseTIFF(r io.ReaderAt) (*tiffFile, error) {
	header := make([]byte, 8)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("read tiff header: %w", err)
	}

	f := &tiffFile{}
	if header[0] == 'I' && header[1] == 'I' {
		f.order = binary.LittleEndian
		f.littleEndian = true
	} else if header[0] == 'M' && header[1] == 'M' {
		f.order = binary.BigEndian
	} else {
		return nil, fmt.Errorf("not a valid TIFF file")
	}
	magic := f.order.Uint16(header[2:4])
	if magic == 43 {
		return nil, fmt.Errorf("BigTIFF is not supported")
	}
	if magic != 42 {
		return nil, fmt.Errorf("not a valid TIFF file (magic %d)", magic)
	}

	offset := uint64(f.order.Uint32(header[4:8]))
	seen := map[uint64]bool{}
	for offset != 0 {
		if seen[offset] {
			return nil, fmt.Errorf("ifd loop at offset %d", offset)
		}
		seen[offset] = true

		d, next, err := f.readIFD(r, offset, true)
		if err != nil {
			return nil, err
		}
		f.ifds = append(f.ifds, d)
		offset = next
	}
	if len(f.ifds) == 0 {
		return nil, fmt.Errorf("tiff has no image directory")
	}
	return f, nil
}

func (f *tiffFile) readIFD(r io.ReaderAt, offset uint64, withSub bool) (*ifd, uint64, error) {
	cnt := make([]byte, 2)
	if _, err := r.ReadAt(cnt, int64(offset)); err != nil {
		return nil, 0, fmt.Errorf("read ifd at %d: %w", offset, err)
	}
	numEntries := int(f.order.Uint16(cnt))
	buf := make([]byte, numEntries*12+4)
	if _, err := r.ReadAt(buf, int64(offset)+2); err != nil {
		return nil, 0, fmt.Errorf("read ifd entries at %d: %w", offset, err)
	}

	d := &ifd{samplesPerPixel: 1, compression: 1, planarConfig: planarChunky, predictor: 1, sampleFormat: 1, photometric: 1}
	var subOffsets []uint64
	for i := 0; i < numEntries; i++ {
		entry := buf[i*12 : (i+1)*12]
		tag := f.order.Uint16(entry[0:2])
		switch tag {
		case tagImageDesc:
			s, err := f.readASCII(r, entry)
			if err != nil {
				return nil, 0, err
			}
			d.description = s
			continue
		case tagImageWidth, tagImageLength, tagBitsPerSample, tagCompression, tagPhotometric,
			tagStripOffsets, tagSamplesPerPixel, tagRowsPerStrip, tagStripByteCounts, tagPlanarConfig,
			tagPredictor, tagTileWidth, tagTileLength, tagTileOffsets, tagTileByteCounts, tagSubIFDs,
			tagSampleFormat:
		default:
			continue
		}

		vals, err := f.readInts(r, entry)
		if err != nil {
			return nil, 0, fmt.Errorf("tag %d: %w", tag, err)
		}
		if len(vals) == 0 {
			continue
		}
		first := int(vals[0])
		switch tag {
		case tagImageWidth:
			d.width = first
		case tagImageLength:
			d.height = first
		case tagBitsPerSample:
			d.bitsPerSample = make([]int, len(vals))
			for j, v := range vals {
				d.bitsPerSample[j] = int(v)
			}
		case tagCompression:
			d.compression = first
		case tagPhotometric:
			d.photometric = first
		case tagStripOffsets:
			d.stripOffsets = vals
		case tagSamplesPerPixel:
			d.samplesPerPixel = first
		case tagRowsPerStrip:
			d.rowsPerStrip = first
		case tagStripByteCounts:
			d.stripByteCounts = vals
		case tagPlanarConfig:
			d.planarConfig = first
		case tagPredictor:
			d.predictor = first
		case tagTileWidth:
			d.tileWidth = first
		case tagTileLength:
			d.tileHeight = first
		case tagTileOffsets:
			d.tileOffsets = vals
		case tagTileByteCounts:
			d.tileByteCounts = vals
		case tagSubIFDs:
			subOffsets = vals
		case tagSampleFormat:
			d.sampleFormat = first
		}
	}
	if d.rowsPerStrip <= 0 || d.rowsPerStrip > d.height {
		d.rowsPerStrip = d.height
	}

	if withSub {
		for _, so := range subOffsets {
			sub, _, err := f.readIFD(r, so, false)
			if err != nil {
				return nil, 0, fmt.Errorf("sub ifd: %w", err)
			}
			d.subIFDs = append(d.subIFDs, sub)
		}
	}

	next := uint64(f.order.Uint32(buf[numEntries*12:]))
	return d, next, nil
}

func typeSize(t uint16) int {
	switch t {
	case typeByte, typeASCII, typeUndef:
		return 1
	case typeShort:
		return 2
	case typeLong, typeIFD:
		return 4
	case typeRational:
		return 8
	}
	return 0
}

// entryData returns the raw bytes of an entry's value, inline or at its offset.
func (f *tiffFile) entryData(r io.ReaderAt, entry []byte) ([]byte, uint16, int, error) {
	fieldType := f.order.Uint16(entry[2:4])
	count := int(f.order.Uint32(entry[4:8]))
	size := typeSize(fieldType)
	if size == 0 {
		return nil, fieldType, count, fmt.Errorf("unsupported field type %d", fieldType)
	}
	total := size * count
	if total <= 4 {
		return entry[8 : 8+total], fieldType, count, nil
	}
	offset := uint64(f.order.Uint32(entry[8:12]))
	if err := checkExtent(r, offset, uint64(total)); err != nil {
		return nil, fieldType, count, err
	}
	data := make([]byte, total)
	if _, err := r.ReadAt(data, int64(offset)); err != nil {
		return nil, fieldType, count, err
	}
	return data, fieldType, count, nil
}

func (f *tiffFile) readInts(r io.ReaderAt, entry []byte) ([]uint64, error) {
	data, fieldType, count, err := f.entryData(r, entry)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, count)
	for i := 0; i < count; i++ {
		switch fieldType {
		case typeByte, typeUndef:
			out[i] = uint64(data[i])
		case typeShort:
			out[i] = uint64(f.order.Uint16(data[i*2:]))
		case typeLong, typeIFD:
			out[i] = uint64(f.order.Uint32(data[i*4:]))
		default:
			return nil, fmt.Errorf("expected integer field, got type %d", fieldType)
		}
	}
	return out, nil
}

func (f *tiffFile) readASCII(r io.ReaderAt, entry []byte) (string, error) {
	data, _, _, err := f.entryData(r, entry)
	if err != nil {
		return "", fmt.Errorf("read image description: %w", err)
	}
	for len(data) > 0 && data[len(data)-1] == 0 {
		data = data[:len(data)-1]
	}
	return string(data), nil
}
