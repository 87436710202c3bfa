package reader

import (
	"fmt"

	img "imagec/internal/image"

	"gocv.io/x/gocv"
)

// scale8To16 maps 0..255 onto 0..65535, i.e. multiplies by 65535/255.
const scale8To16 = 257

// toImage16 turns decoded samples into one 16-bit channel. Multi sample
// images are assembled as BGR and reduced to gray.
func (s *samplePlanes) toImage16(photometric int) (*img.Image16, error) {
	if s.bits == 8 {
		for _, plane := range s.samples {
			for i, v := range plane {
				plane[i] = v * scale8To16
			}
		}
	}

	if len(s.samples) == 1 {
		out := &img.Image16{Width: s.width, Height: s.height, Pix: s.samples[0]}
		if photometric == 0 {
			for i, v := range out.Pix {
				out.Pix[i] = 65535 - v
			}
		}
		return out, nil
	}
	if len(s.samples) < 3 {
		return nil, fmt.Errorf("cannot convert %d samples", len(s.samples))
	}
	return bgrToGray(s.width, s.height, s.samples[2], s.samples[1], s.samples[0])
}

// bgrToGray merges three channel planes into a BGR Mat and converts it to gray.
func bgrToGray(w, h int, b, g, r []uint16) (*img.Image16, error) {
	planes := make([]gocv.Mat, 0, 3)
	defer func() {
		for _, p := range planes {
			p.Close()
		}
	}()
	for _, ch := range [][]uint16{b, g, r} {
		m, err := (&img.Image16{Width: w, Height: h, Pix: ch}).ToMat()
		if err != nil {
			return nil, err
		}
		planes = append(planes, m)
	}

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.Merge(planes, &bgr)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)

	return img.FromMat(gray)
}
