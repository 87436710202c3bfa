package detect

import (
	"context"

	img "imagec/internal/image"
	"imagec/internal/roi"
)

// Detector finds objects in a preprocessed image. The original image of the
// iteration is passed along for detectors that measure on raw values.
type Detector interface {
	Forward(ctx context.Context, preprocessed, original *img.Image16) (*roi.ObjectList, error)
}

// ThresholdDetector binarizes the image and segments the contours.
type ThresholdDetector struct {
	Method  ThresholdMethod
	Limits  ThresholdLimits
	Options SegmentOptions

	appliedMin uint16
	appliedMax uint16
}

// Forward implements Detector. The ROI confidence is the applied lower
// threshold.
func (d *ThresholdDetector) Forward(ctx context.Context, preprocessed, original *img.Image16) (*roi.ObjectList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.appliedMin, d.appliedMax = AutoThreshold(preprocessed, d.Method, d.Limits)
	binary := Binarize(preprocessed, d.appliedMin, d.appliedMax)
	opts := d.Options
	opts.Confidence = float32(d.appliedMin)
	return FindObjects(MaskFromBinary(binary, 65535), opts)
}

// Applied returns the thresholds used by the last Forward call.
func (d *ThresholdDetector) Applied() (uint16, uint16) {
	return d.appliedMin, d.appliedMax
}

// HoughDetector finds circles.
type HoughDetector struct {
	Params  HoughParams
	Options SegmentOptions
}

// Forward implements Detector.
func (d *HoughDetector) Forward(ctx context.Context, preprocessed, original *img.Image16) (*roi.ObjectList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	circles, err := HoughCircles(preprocessed, d.Params)
	if err != nil {
		return nil, err
	}
	opts := d.Options
	if opts.Confidence == 0 {
		opts.Confidence = 1
	}
	return CirclesToObjects(circles, preprocessed.Size(), opts)
}

var (
	_ Detector = (*ThresholdDetector)(nil)
	_ Detector = (*HoughDetector)(nil)
	_ Detector = (*AiDetector)(nil)
)
