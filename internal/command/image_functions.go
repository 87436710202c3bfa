package command

import (
	"errors"
	"fmt"
	"image"
	"slices"

	"imagec/internal/apperr"
	img "imagec/internal/image"
	"imagec/internal/roi"
	"imagec/internal/settings"

	"gocv.io/x/gocv"
)

var errEmptyImage = errors.New("empty image")

// maxOpenCVMedian16 is the largest median kernel OpenCV supports on 16-bit data.
const maxOpenCVMedian16 = 5

// applyMat runs op on Mat copies of the inputs and returns the result as a
// new image.
func applyMat(op func(src []gocv.Mat, dst *gocv.Mat), inputs ...*img.Image16) (*img.Image16, error) {
	mats := make([]gocv.Mat, 0, len(inputs))
	defer func() {
		for _, m := range mats {
			m.Close()
		}
	}()
	for _, in := range inputs {
		m, err := in.ToMat()
		if err != nil {
			return nil, err
		}
		mats = append(mats, m)
	}
	dst := gocv.NewMat()
	defer dst.Close()
	op(mats, &dst)
	return img.FromMat(dst)
}

// medianFilter is a median with replicated borders for kernels OpenCV does
// not support on 16-bit images.
func medianFilter(in *img.Image16, kernel int) *img.Image16 {
	if kernel <= maxOpenCVMedian16 {
		if out, err := applyMat(func(src []gocv.Mat, dst *gocv.Mat) {
			gocv.MedianBlur(src[0], dst, kernel)
		}, in); err == nil {
			return out
		}
	}
	out := img.NewImage16(in.Width, in.Height)
	r := kernel / 2
	window := make([]uint16, 0, kernel*kernel)
	for y := 0; y < in.Height; y++ {
		for x := 0; x < in.Width; x++ {
			window = window[:0]
			for dy := -r; dy <= r; dy++ {
				yy := min(max(y+dy, 0), in.Height-1)
				for dx := -r; dx <= r; dx++ {
					xx := min(max(x+dx, 0), in.Width-1)
					window = append(window, in.Pix[yy*in.Width+xx])
				}
			}
			slices.Sort(window)
			out.Pix[y*in.Width+x] = window[len(window)/2]
		}
	}
	return out
}

// ImageLoader replaces the running image with an image of the iteration.
type ImageLoader struct {
	settings settings.ImageLoaderSettings
}

func (c *ImageLoader) Execute(ctx Context, frame *img.Image16, _ roi.ObjectMap) error {
	loaded, err := ctx.LoadImageFromCache(c.settings.ImageIn)
	if err != nil {
		return err
	}
	*frame = *loaded.Clone()
	return nil
}

// MedianSubtract removes the local median: out = in - median(in).
type MedianSubtract struct {
	settings settings.MedianSubtractSettings
}

func (c *MedianSubtract) Execute(_ Context, frame *img.Image16, _ roi.ObjectMap) error {
	median := medianFilter(frame, c.settings.KernelSize)
	out, err := applyMat(func(src []gocv.Mat, dst *gocv.Mat) {
		gocv.Subtract(src[0], src[1], dst)
	}, frame, median)
	if err != nil {
		return apperr.NewProcessingError("median subtract", err)
	}
	*frame = *out
	return nil
}

// MarginCrop zeroes a border of the configured width.
type MarginCrop struct {
	settings settings.MarginCropSettings
}

func (c *MarginCrop) Execute(_ Context, frame *img.Image16, _ roi.ObjectMap) error {
	m := c.settings.MarginSize
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			if x < m || y < m || x >= frame.Width-m || y >= frame.Height-m {
				frame.Pix[y*frame.Width+x] = 0
			}
		}
	}
	return nil
}

// ImageMath combines the running image with a second image elementwise.
// Results saturate to the 16-bit range.
type ImageMath struct {
	settings settings.ImageMathSettings
}

func (c *ImageMath) Execute(ctx Context, frame *img.Image16, _ roi.ObjectMap) error {
	fn := c.settings.Function
	if fn == settings.MathInvert {
		out, err := applyMat(func(src []gocv.Mat, dst *gocv.Mat) {
			gocv.BitwiseNot(src[0], dst)
		}, frame)
		if err != nil {
			return apperr.NewProcessingError("image math", err)
		}
		*frame = *out
		return nil
	}

	second, err := ctx.LoadImageFromCache(c.settings.InputImageSecond)
	if err != nil {
		return err
	}
	if !frame.SameSize(second) {
		return apperr.NewProcessingError("image math",
			fmt.Errorf("operand %s is %dx%d, image is %dx%d", c.settings.InputImageSecond, second.Width, second.Height, frame.Width, frame.Height))
	}
	a, b := frame, second
	if c.settings.OperatorOrder == settings.OrderBoA {
		a, b = b, a
	}
	out, err := applyMat(func(src []gocv.Mat, dst *gocv.Mat) {
		switch fn {
		case settings.MathAdd:
			gocv.Add(src[0], src[1], dst)
		case settings.MathSub:
			gocv.Subtract(src[0], src[1], dst)
		case settings.MathMul:
			gocv.Multiply(src[0], src[1], dst)
		case settings.MathDiv:
			gocv.Divide(src[0], src[1], dst)
		case settings.MathAnd:
			gocv.BitwiseAnd(src[0], src[1], dst)
		case settings.MathOr:
			gocv.BitwiseOr(src[0], src[1], dst)
		case settings.MathXor:
			gocv.BitwiseXor(src[0], src[1], dst)
		case settings.MathMin:
			gocv.Min(src[0], src[1], dst)
		case settings.MathMax:
			gocv.Max(src[0], src[1], dst)
		case settings.MathAvg:
			gocv.AddWeighted(src[0], 0.5, src[1], 0.5, 0, dst)
		case settings.MathDiff:
			gocv.AbsDiff(src[0], src[1], dst)
		}
	}, a, b)
	if err != nil {
		return apperr.NewProcessingError("image math", err)
	}
	*frame = *out
	return nil
}

// ImageCache stores a copy of the running image in a memory slot.
type ImageCache struct {
	settings settings.ImageCacheSettings
}

func (c *ImageCache) Execute(ctx Context, frame *img.Image16, _ roi.ObjectMap) error {
	ctx.StoreImageToMemory(c.settings.MemoryId, frame.Clone(), c.settings.MemoryScope)
	return nil
}

// Blur smooths the image.
type Blur struct {
	settings settings.BlurSettings
}

func (c *Blur) Execute(_ Context, frame *img.Image16, _ roi.ObjectMap) error {
	k := c.settings.KernelSize
	out := frame
	for i := 0; i < c.settings.Repeat; i++ {
		if c.settings.Mode == settings.BlurMedian {
			out = medianFilter(out, k)
			continue
		}
		next, err := applyMat(func(src []gocv.Mat, dst *gocv.Mat) {
			if c.settings.Mode == settings.BlurBox {
				gocv.Blur(src[0], dst, image.Pt(k, k))
			} else {
				gocv.GaussianBlur(src[0], dst, image.Pt(k, k), 0, 0, gocv.BorderReflect101)
			}
		}, out)
		if err != nil {
			return apperr.NewProcessingError("blur", err)
		}
		out = next
	}
	*frame = *out
	return nil
}
