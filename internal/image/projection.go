package image

import (
	"fmt"

	"imagec/internal/enums"

	"gocv.io/x/gocv"
)

// Projector folds a stack of equally sized planes into one image. MAX and MIN
// keep a running Mat; AVG sums in 64 bit so deep stacks cannot saturate.
type Projector struct {
	Mode   enums.ZProjection
	Width  int
	Height int

	count int
	acc   gocv.Mat
	sum   []uint64
}

// NewProjector creates a projector for MAX, MIN or AVG. Close releases it.
func NewProjector(mode enums.ZProjection, width, height int) (*Projector, error) {
	switch mode {
	case enums.ZProjectionMax, enums.ZProjectionMin, enums.ZProjectionAvg:
	default:
		return nil, fmt.Errorf("projection %s cannot be accumulated", mode)
	}
	return &Projector{Mode: mode, Width: width, Height: height, acc: gocv.NewMat()}, nil
}

// Add folds one plane into the projection.
func (p *Projector) Add(plane *Image16) error {
	if plane.Width != p.Width || plane.Height != p.Height {
		return fmt.Errorf("plane size %dx%d does not match projection %dx%d",
			plane.Width, plane.Height, p.Width, p.Height)
	}

	if p.Mode == enums.ZProjectionAvg {
		if p.sum == nil {
			p.sum = make([]uint64, len(plane.Pix))
		}
		for i, v := range plane.Pix {
			p.sum[i] += uint64(v)
		}
		p.count++
		return nil
	}

	mat, err := plane.ToMat()
	if err != nil {
		return err
	}
	if p.acc.Empty() {
		p.acc.Close()
		p.acc = mat
		p.count++
		return nil
	}
	defer mat.Close()
	if p.Mode == enums.ZProjectionMax {
		gocv.Max(p.acc, mat, &p.acc)
	} else {
		gocv.Min(p.acc, mat, &p.acc)
	}
	p.count++
	return nil
}

// Count returns the number of planes folded so far.
func (p *Projector) Count() int {
	return p.count
}

// Render produces the projected image.
func (p *Projector) Render() (*Image16, error) {
	if p.count == 0 {
		return NewImage16(p.Width, p.Height), nil
	}
	if p.Mode != enums.ZProjectionAvg {
		return FromMat(p.acc)
	}
	out := NewImage16(p.Width, p.Height)
	n := uint64(p.count)
	for i, s := range p.sum {
		out.Pix[i] = uint16((s + n/2) / n)
	}
	return out, nil
}

// Close releases the running Mat.
func (p *Projector) Close() error {
	return p.acc.Close()
}
