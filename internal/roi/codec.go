package roi

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"imagec/internal/apperr"
	"imagec/internal/enums"
	img "imagec/internal/image"
	"imagec/pkg/geometry"
)

const (
	jobjMagic = "JOBJ"
	// JobjVersion is written by Serialize. Version 1 streams lack validity
	// and intensities, version 2 streams lack the image size and store the
	// validity in one byte. Both are still readable.
	JobjVersion uint32 = 3

	maxRecordBytes = 1 << 30
)

var le = binary.LittleEndian

// Serialize writes the list in the JOBJ format.
func (l *ObjectList) Serialize(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(jobjMagic); err != nil {
		return err
	}
	head := []uint32{JobjVersion, uint32(l.Len())}
	if err := binary.Write(bw, le, head); err != nil {
		return err
	}
	for _, r := range l.rois {
		if err := writeRecord(bw, r); err != nil {
			return fmt.Errorf("roi %d: %w", r.Index, err)
		}
	}
	return bw.Flush()
}

type recordHead struct {
	Index      uint32
	ClassId    uint16
	Confidence float32
	T, Z, C    int32
	X, Y, W, H int32
}

// imageHead follows the record head from version 3 on.
type imageHead struct {
	Width, Height int32
}

func writeRecord(w io.Writer, r *ROI) error {
	head := recordHead{
		Index:      r.Index,
		ClassId:    uint16(r.ClassId()),
		Confidence: r.Confidence,
		T:          r.Id.Plane.TStack,
		Z:          r.Id.Plane.ZStack,
		C:          r.Id.Plane.CStack,
		X:          int32(r.BBox.X),
		Y:          int32(r.BBox.Y),
		W:          int32(r.BBox.Width),
		H:          int32(r.BBox.Height),
	}
	if err := binary.Write(w, le, head); err != nil {
		return err
	}
	size := imageHead{Width: int32(r.ImageSize.Width), Height: int32(r.ImageSize.Height)}
	if err := binary.Write(w, le, size); err != nil {
		return err
	}
	if err := binary.Write(w, le, uint32(len(r.Mask.Pix))); err != nil {
		return err
	}
	if _, err := w.Write(r.Mask.Pix); err != nil {
		return err
	}
	if err := binary.Write(w, le, uint32(len(r.Contour))); err != nil {
		return err
	}
	pts := make([]int32, 0, len(r.Contour)*2)
	for _, p := range r.Contour {
		pts = append(pts, int32(p.X), int32(p.Y))
	}
	if err := binary.Write(w, le, pts); err != nil {
		return err
	}

	if err := binary.Write(w, le, uint16(r.Validity)); err != nil {
		return err
	}
	channels := make([]int32, 0, len(r.intensities))
	for c := range r.intensities {
		channels = append(channels, c)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	if err := binary.Write(w, le, uint32(len(channels))); err != nil {
		return err
	}
	for _, c := range channels {
		v := r.intensities[c]
		if err := binary.Write(w, le, c); err != nil {
			return err
		}
		if err := binary.Write(w, le, []float64{v.Avg, v.Min, v.Max}); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize reads a list written by Serialize. Derived metrics are
// recomputed from mask and contour. Malformed streams give a decode error.
func Deserialize(r io.Reader) (*ObjectList, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, 4)
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, apperr.NewDecodeError("read JOBJ magic", err)
	}
	if string(magic) != jobjMagic {
		return nil, apperr.NewDecodeError("not a JOBJ stream", nil)
	}
	var head [2]uint32
	if err := binary.Read(br, le, &head); err != nil {
		return nil, apperr.NewDecodeError("read JOBJ header", err)
	}
	version, count := head[0], head[1]
	if version < 1 || version > JobjVersion {
		return nil, apperr.NewDecodeError(fmt.Sprintf("unsupported JOBJ version %d", version), nil)
	}

	out := NewObjectList()
	for i := uint32(0); i < count; i++ {
		roi, err := readRecord(br, version)
		if err != nil {
			return nil, apperr.NewDecodeError(fmt.Sprintf("JOBJ record %d", i), err)
		}
		out.Push(roi)
	}
	return out, nil
}

// readN reads n bytes. The buffer grows with the data actually read, so a
// corrupt length cannot force a large allocation.
func readN(r io.Reader, n int64) ([]byte, error) {
	if n > maxRecordBytes {
		return nil, fmt.Errorf("%d bytes exceed the record limit", n)
	}
	var buf bytes.Buffer
	got, err := io.CopyN(&buf, r, n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("truncated after %d of %d bytes: %w", got, n, io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

func readRecord(r io.Reader, version uint32) (*ROI, error) {
	var head recordHead
	if err := binary.Read(r, le, &head); err != nil {
		return nil, err
	}
	if head.W < 0 || head.H < 0 {
		return nil, fmt.Errorf("negative bounding box %dx%d", head.W, head.H)
	}
	var size imageHead
	if version >= 3 {
		if err := binary.Read(r, le, &size); err != nil {
			return nil, err
		}
		if size.Width < 0 || size.Height < 0 {
			return nil, fmt.Errorf("negative image size %dx%d", size.Width, size.Height)
		}
	}
	var maskBytes uint32
	if err := binary.Read(r, le, &maskBytes); err != nil {
		return nil, err
	}
	if int64(maskBytes) != int64(head.W)*int64(head.H) {
		return nil, fmt.Errorf("mask has %d bytes, bounding box %dx%d", maskBytes, head.W, head.H)
	}
	pix, err := readN(r, int64(maskBytes))
	if err != nil {
		return nil, fmt.Errorf("mask: %w", err)
	}
	mask := &img.Mask{Width: int(head.W), Height: int(head.H), Pix: pix}

	var nPoints uint32
	if err := binary.Read(r, le, &nPoints); err != nil {
		return nil, err
	}
	raw, err := readN(r, int64(nPoints)*8)
	if err != nil {
		return nil, fmt.Errorf("contour: %w", err)
	}
	contour := make([]geometry.PointInt, nPoints)
	for i := range contour {
		contour[i] = geometry.PointInt{
			X: int(int32(le.Uint32(raw[i*8:]))),
			Y: int(int32(le.Uint32(raw[i*8+4:]))),
		}
	}

	roi, err := New(Params{
		Index:      head.Index,
		Confidence: head.Confidence,
		ClassId:    enums.ClassId(head.ClassId),
		Plane:      enums.PlaneId{TStack: head.T, ZStack: head.Z, CStack: head.C},
		BBox:       geometry.NewRectInt(int(head.X), int(head.Y), int(head.W), int(head.H)),
		Mask:       mask,
		Contour:    contour,
		ImageSize:  geometry.Size{Width: int(size.Width), Height: int(size.Height)},
	})
	if err != nil {
		return nil, err
	}
	if version < 2 {
		return roi, nil
	}

	if version < 3 {
		var validity uint8
		if err := binary.Read(r, le, &validity); err != nil {
			return nil, err
		}
		roi.Validity = Validity(validity)
	} else {
		var validity uint16
		if err := binary.Read(r, le, &validity); err != nil {
			return nil, err
		}
		roi.Validity = Validity(validity)
	}
	var n uint32
	if err := binary.Read(r, le, &n); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var c int32
		var vals [3]float64
		if err := binary.Read(r, le, &c); err != nil {
			return nil, err
		}
		if err := binary.Read(r, le, &vals); err != nil {
			return nil, err
		}
		roi.SetIntensity(c, Intensity{Avg: vals[0], Min: vals[1], Max: vals[2]})
	}
	return roi, nil
}

// WriteFile serializes the list to path.
func (l *ObjectList) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := l.Serialize(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile deserializes a list from path.
func ReadFile(path string) (*ObjectList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Deserialize(f)
}
