package detect

import (
	"context"
	"fmt"
	"image"
	"os"
	"sort"
	"strings"

	"imagec/internal/apperr"
	"imagec/internal/enums"
	img "imagec/internal/image"
	"imagec/internal/roi"
	"imagec/pkg/geometry"

	"gocv.io/x/gocv"
)

// InputDataType is the tensor element type a model expects.
type InputDataType int

const (
	InputFloat32 InputDataType = iota
	InputUint8
	InputUint16
	InputUint32
)

var inputDataTypeNames = map[InputDataType]string{
	InputFloat32: "f32",
	InputUint8:   "u8",
	InputUint16:  "u16",
	InputUint32:  "u32",
}

func (t InputDataType) String() string {
	if name, ok := inputDataTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

func (t InputDataType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *InputDataType) UnmarshalText(text []byte) error {
	s := strings.ToLower(string(text))
	if s == "" || s == "float32" {
		*t = InputFloat32
		return nil
	}
	for k, v := range inputDataTypeNames {
		if v == s {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown input data type %q", string(text))
}

// ModelInput is the input tensor layout declared by a model.
type ModelInput struct {
	Axes     string        `json:"axes"`
	Batch    int           `json:"batch"`
	Channels int           `json:"channels"`
	SpaceX   int           `json:"spaceX"`
	SpaceY   int           `json:"spaceY"`
	DataType InputDataType `json:"dataType"`
}

// Check validates the layout.
func (m ModelInput) Check() error {
	if m.Channels != 1 && m.Channels != 3 {
		return fmt.Errorf("model input channels must be 1 or 3, got %d", m.Channels)
	}
	if m.SpaceX <= 0 || m.SpaceY <= 0 {
		return fmt.Errorf("model input size must be > 0, got %dx%d", m.SpaceX, m.SpaceY)
	}
	return nil
}

// AiParams configures model based detection.
type AiParams struct {
	ModelPath      string     `json:"modelPath"`
	Input          ModelInput `json:"modelInputParameter"`
	NrOfClasses    int        `json:"nrOfClasses"`
	ClassThreshold float32    `json:"classThreshold"`
	MaskThreshold  float32    `json:"maskThreshold"`
	NmsThreshold   float64    `json:"nmsThreshold"`
}

// DefaultAiParams returns the thresholds used when a document omits them.
func DefaultAiParams() AiParams {
	return AiParams{
		Input:          ModelInput{Axes: "bcyx", Batch: 1, Channels: 3, SpaceX: 640, SpaceY: 640},
		ClassThreshold: 0.5,
		MaskThreshold:  0.5,
		NmsThreshold:   0.45,
	}
}

// Check validates the parameters.
func (p AiParams) Check() error {
	if p.ModelPath == "" {
		return fmt.Errorf("missing model path")
	}
	if p.ClassThreshold < 0 || p.ClassThreshold > 1 || p.MaskThreshold < 0 || p.MaskThreshold > 1 {
		return fmt.Errorf("class and mask thresholds must be in [0,1]")
	}
	return p.Input.Check()
}

// Detection is one object predicted by a model, in image coordinates.
type Detection struct {
	ModelClass int
	Confidence float32
	Box        geometry.RectInt
}

// AiDetector runs a model through the OpenCV dnn module.
type AiDetector struct {
	params AiParams
	net    gocv.Net
}

// NewAiDetector loads the model file. ONNX, TorchScript and TensorFlow
// files are recognized by their extension.
func NewAiDetector(params AiParams) (*AiDetector, error) {
	if _, err := os.Stat(params.ModelPath); err != nil {
		return nil, apperr.NewProcessingError("model not found", err)
	}
	net := gocv.ReadNet(params.ModelPath, "")
	if net.Empty() {
		net.Close()
		return nil, apperr.NewProcessingError("could not load model", fmt.Errorf("%s", params.ModelPath))
	}
	return &AiDetector{params: params, net: net}, nil
}

// Close releases the network.
func (d *AiDetector) Close() error {
	return d.net.Close()
}

func (d *AiDetector) blob(frame *img.Image16) (gocv.Mat, error) {
	in := d.params.Input
	src, err := frame.ToMat()
	if err != nil {
		return gocv.NewMat(), err
	}
	defer src.Close()

	scaled := gocv.NewMat()
	defer scaled.Close()
	scale := 1.0
	switch in.DataType {
	case InputUint16, InputUint32:
		src.CopyTo(&scaled)
	default:
		src.ConvertToWithParams(&scaled, gocv.MatTypeCV8UC1, 1.0/257.0, 0)
		if in.DataType == InputFloat32 {
			scale = 1.0 / 255.0
		}
	}
	if in.Channels == 3 {
		gocv.CvtColor(scaled, &scaled, gocv.ColorGrayToBGR)
	}

	blob := gocv.BlobFromImage(scaled, scale, image.Pt(in.SpaceX, in.SpaceY), gocv.NewScalar(0, 0, 0, 0), true, false)
	switch in.DataType {
	case InputUint8:
		blob.ConvertTo(&blob, gocv.MatTypeCV8U)
	case InputUint16:
		blob.ConvertTo(&blob, gocv.MatTypeCV16U)
	case InputUint32:
		blob.ConvertTo(&blob, gocv.MatTypeCV32S)
	}
	return blob, nil
}

// predict runs the model. Box models yield detections after non-maximum
// suppression, segmentation models yield class probability maps.
func (d *AiDetector) predict(ctx context.Context, frame *img.Image16) ([]Detection, *probabilityMaps, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	blob, err := d.blob(frame)
	if err != nil {
		return nil, nil, apperr.NewProcessingError("prepare model input", err)
	}
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	dims := out.Size()
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, nil, apperr.NewProcessingError("read model output", err)
	}
	if len(dims) == 4 {
		maps := &probabilityMaps{data: append([]float32(nil), data...), classes: dims[1], height: dims[2], width: dims[3]}
		return nil, maps, nil
	}
	sx := float64(frame.Width) / float64(d.params.Input.SpaceX)
	sy := float64(frame.Height) / float64(d.params.Input.SpaceY)
	dets, err := DecodeBoxes(data, dims, d.params.NrOfClasses, sx, sy, frame.Size(), d.params.ClassThreshold)
	if err != nil {
		return nil, nil, apperr.NewProcessingError("decode model output", err)
	}
	return NonMaxSuppression(dets, d.params.NmsThreshold), nil, nil
}

// Forward runs the model and converts the prediction to ROIs. Each ROI
// carries the model class index as class id until it is classified.
func (d *AiDetector) Forward(ctx context.Context, preprocessed, original *img.Image16) (*roi.ObjectList, error) {
	dets, maps, err := d.predict(ctx, preprocessed)
	if err != nil {
		return nil, err
	}
	if maps != nil {
		return maps.objects(preprocessed.Size(), d.params.MaskThreshold)
	}
	return DetectionsToObjects(dets, preprocessed.Size())
}

// DecodeBoxes parses a YOLO style output tensor. Supported layouts are
// [1, N, 5+classes] with objectness, [1, N, 4+classes] and the transposed
// [1, 4+classes, N]. Boxes are (cx, cy, w, h) in model input pixels and are
// scaled by (sx, sy) and clipped to the image.
func DecodeBoxes(data []float32, dims []int, nClasses int, sx, sy float64, size geometry.Size, threshold float32) ([]Detection, error) {
	if len(dims) != 3 {
		return nil, fmt.Errorf("unsupported output shape %v", dims)
	}
	if nClasses <= 0 {
		nClasses = dims[2] - 5
	}
	if nClasses <= 0 {
		return nil, fmt.Errorf("cannot infer class count from shape %v", dims)
	}

	var (
		rows       int
		at         func(row, col int) float32
		objectness bool
	)
	switch {
	case dims[2] == 5+nClasses:
		rows, objectness = dims[1], true
		at = func(row, col int) float32 { return data[row*dims[2]+col] }
	case dims[2] == 4+nClasses:
		rows = dims[1]
		at = func(row, col int) float32 { return data[row*dims[2]+col] }
	case dims[1] == 4+nClasses:
		rows = dims[2]
		at = func(row, col int) float32 { return data[col*dims[2]+row] }
	default:
		return nil, fmt.Errorf("output shape %v does not match %d classes", dims, nClasses)
	}
	if len(data) < dims[0]*dims[1]*dims[2] {
		return nil, fmt.Errorf("output holds %d values, shape %v needs more", len(data), dims)
	}

	first := 4
	if objectness {
		first = 5
	}
	bounds := geometry.RectInt{Width: size.Width, Height: size.Height}
	var out []Detection
	for row := 0; row < rows; row++ {
		confidence := float32(1)
		if objectness {
			confidence = at(row, 4)
			if confidence < threshold {
				continue
			}
		}
		bestClass, bestScore := 0, float32(-1)
		for c := 0; c < nClasses; c++ {
			if s := at(row, first+c); s > bestScore {
				bestClass, bestScore = c, s
			}
		}
		if bestScore <= threshold {
			continue
		}
		if !objectness {
			confidence = bestScore
		}

		cx, cy := float64(at(row, 0)), float64(at(row, 1))
		w, h := float64(at(row, 2)), float64(at(row, 3))
		box := geometry.NewRectInt(int((cx-0.5*w)*sx), int((cy-0.5*h)*sy), int(w*sx), int(h*sy)).Intersect(bounds)
		if box.Empty() {
			continue
		}
		out = append(out, Detection{ModelClass: bestClass, Confidence: confidence, Box: box})
	}
	return out, nil
}

func iou(a, b geometry.RectInt) float64 {
	inter := a.Intersect(b).Area()
	if inter == 0 {
		return 0
	}
	return float64(inter) / float64(a.Area()+b.Area()-inter)
}

// NonMaxSuppression drops every detection that overlaps a more confident one
// by more than iouThreshold. The result keeps the input order.
func NonMaxSuppression(dets []Detection, iouThreshold float64) []Detection {
	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dets[order[a]].Confidence > dets[order[b]].Confidence
	})

	keep := make([]bool, len(dets))
	var kept []int
	for _, i := range order {
		suppressed := false
		for _, k := range kept {
			if iou(dets[i].Box, dets[k].Box) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			keep[i] = true
			kept = append(kept, i)
		}
	}

	out := make([]Detection, 0, len(kept))
	for i, d := range dets {
		if keep[i] {
			out = append(out, d)
		}
	}
	return out
}

// DetectionsToObjects creates one ROI per box. The mask covers the whole box.
func DetectionsToObjects(dets []Detection, size geometry.Size) (*roi.ObjectList, error) {
	list := roi.NewObjectList()
	for i, d := range dets {
		mask := img.NewMask(d.Box.Width, d.Box.Height)
		for k := range mask.Pix {
			mask.Pix[k] = 255
		}
		r, err := roi.New(roi.Params{
			Index:      uint32(i),
			Confidence: d.Confidence,
			ClassId:    enums.ClassId(d.ModelClass),
			BBox:       d.Box,
			Mask:       mask,
			ImageSize:  size,
		})
		if err != nil {
			return nil, err
		}
		list.Push(r)
	}
	return list, nil
}

// probabilityMaps is a [classes, height, width] tensor of per pixel class
// probabilities.
type probabilityMaps struct {
	data                   []float32
	classes, height, width int
}

func (m *probabilityMaps) at(class, x, y int) float32 {
	return m.data[(class*m.height+y)*m.width+x]
}

// objects thresholds every class map at image resolution (nearest neighbour)
// and segments it. The confidence of a ROI is its mean probability.
func (m *probabilityMaps) objects(size geometry.Size, threshold float32) (*roi.ObjectList, error) {
	list := roi.NewObjectList()
	if size.Width == 0 || size.Height == 0 {
		return list, nil
	}
	var index uint32
	prob := make([]float32, size.Width*size.Height)
	for c := 0; c < m.classes; c++ {
		binary := img.NewMask(size.Width, size.Height)
		for y := 0; y < size.Height; y++ {
			sy := y * m.height / size.Height
			for x := 0; x < size.Width; x++ {
				p := m.at(c, x*m.width/size.Width, sy)
				prob[y*size.Width+x] = p
				if p > threshold {
					binary.Pix[y*size.Width+x] = 255
				}
			}
		}
		found, err := FindObjects(binary, SegmentOptions{ClassId: enums.ClassId(c)})
		if err != nil {
			return nil, err
		}
		for _, r := range found.Rois() {
			var sum float64
			n := 0
			for y := 0; y < r.Mask.Height; y++ {
				for x := 0; x < r.Mask.Width; x++ {
					if r.Mask.IsSet(x, y) {
						sum += float64(prob[(r.BBox.Y+y)*size.Width+r.BBox.X+x])
						n++
					}
				}
			}
			if n > 0 {
				r.Confidence = float32(sum / float64(n))
			}
			r.Index = index
			index++
			list.Push(r)
		}
	}
	return list, nil
}
