// Package roi holds the object model of the analysis: one detected region of
// interest with its mask, contour, shape metrics and measurements, and the
// lists and maps that collect them per class.
package roi

import (
	"fmt"
	"math"

	"imagec/internal/enums"
	img "imagec/internal/image"
	"imagec/pkg/geometry"

	"gocv.io/x/gocv"
)

const sqrt2 = math.Sqrt2

// ObjectId identifies a ROI inside one image.
type ObjectId struct {
	ClassId enums.ClassId `json:"classId"`
	Plane   enums.PlaneId `json:"plane"`
}

// Intensity is the gray value statistic of the masked pixels in one channel.
type Intensity struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Intersecting lists the indices of ROIs of one class this ROI overlaps with.
type Intersecting struct {
	Valid   []uint32 `json:"valid"`
	Invalid []uint32 `json:"invalid"`
}

// Distance is the result of a distance measurement to another ROI.
type Distance struct {
	ToClass            enums.ClassId `json:"toClass"`
	ToIndex            uint32        `json:"toIndex"`
	CenterToCenter     float64       `json:"centerToCenter"`
	CenterToSurfaceMin float64       `json:"centerToSurfaceMin"`
	CenterToSurfaceMax float64       `json:"centerToSurfaceMax"`
}

// MetricsFilter are the shape limits a ROI must satisfy to be valid.
// A MaxParticleSize of 0 means no upper limit.
type MetricsFilter struct {
	MinParticleSize         float64 `json:"minParticleSize"`
	MaxParticleSize         float64 `json:"maxParticleSize"`
	MinCircularity          float64 `json:"minCircularity"`
	SnapAreaSize            int     `json:"snapAreaSize"`
	ExcludeObjectsAtTheEdge bool    `json:"excludeObjectsAtTheEdge"`
}

// Check validates the filter limits.
func (f MetricsFilter) Check() error {
	if f.MinParticleSize < 0 {
		return fmt.Errorf("min particle size must be >= 0")
	}
	if f.MaxParticleSize > 0 && f.MaxParticleSize < f.MinParticleSize {
		return fmt.Errorf("max particle size %v is smaller than min particle size %v", f.MaxParticleSize, f.MinParticleSize)
	}
	if f.MinCircularity < 0 || f.MinCircularity > 1 {
		return fmt.Errorf("min circularity must be in [0,1]")
	}
	if f.SnapAreaSize < 0 {
		return fmt.Errorf("snap area size must be >= 0")
	}
	return nil
}

// Params are the construction arguments of a ROI.
type Params struct {
	Index      uint32
	Confidence float32
	ClassId    enums.ClassId
	Plane      enums.PlaneId
	// BBox is in tile coordinates.
	BBox geometry.RectInt
	// Mask must have the size of BBox.
	Mask *img.Mask
	// Contour is relative to BBox. A nil contour is searched in the mask.
	Contour []geometry.PointInt
	// ImageSize is the size of the image (tile) the ROI was found in.
	ImageSize    geometry.Size
	SnapAreaSize int
}

// ROI is one detected object.
type ROI struct {
	Index      uint32
	Id         ObjectId
	Confidence float32
	BBox       geometry.RectInt
	Mask       *img.Mask
	Contour    []geometry.PointInt
	ImageSize  geometry.Size
	Validity   Validity

	snapBox  geometry.RectInt
	snapMask *img.Mask
	snapArea int

	areaSize    int
	perimeter   float64
	circularity float64

	intensities  map[int32]Intensity
	intersecting map[enums.ClassId]*Intersecting
	distances    []Distance
}

// New creates a ROI and computes its shape metrics.
func New(p Params) (*ROI, error) {
	if p.Mask == nil {
		return nil, fmt.Errorf("roi %d: missing mask", p.Index)
	}
	if p.Mask.Width != p.BBox.Width || p.Mask.Height != p.BBox.Height {
		return nil, fmt.Errorf("roi %d: mask %dx%d does not match bounding box %dx%d",
			p.Index, p.Mask.Width, p.Mask.Height, p.BBox.Width, p.BBox.Height)
	}

	r := &ROI{
		Index:      p.Index,
		Id:         ObjectId{ClassId: p.ClassId, Plane: p.Plane},
		Confidence: p.Confidence,
		BBox:       p.BBox,
		Mask:       p.Mask,
		Contour:    p.Contour,
		ImageSize:  p.ImageSize,
	}

	if r.Contour == nil {
		contour, err := LargestContour(p.Mask)
		if err != nil {
			return nil, fmt.Errorf("roi %d: %w", p.Index, err)
		}
		r.Contour = contour
	}

	r.buildSnapArea(p.SnapAreaSize)
	r.areaSize = p.Mask.CountNonZero()
	r.perimeter = tracedPerimeter(r.Contour)
	r.circularity = circularity(r.areaSize, r.perimeter)
	return r, nil
}

func circularity(area int, perimeter float64) float64 {
	dividend := 4 * math.Pi * float64(area)
	perimeterSquare := perimeter * perimeter
	if dividend < perimeterSquare {
		return dividend / perimeterSquare
	}
	return 1
}

// buildSnapArea creates a square box of size snapAreaSize centred on the
// bounding box, clipped to the image, holding a filled circle.
func (r *ROI) buildSnapArea(snapAreaSize int) {
	if snapAreaSize <= 1 || snapAreaSize <= r.BBox.Width || snapAreaSize <= r.BBox.Height {
		return
	}
	size := float64(snapAreaSize)
	x := int(float64(r.BBox.X) + (float64(r.BBox.Width)-size)/2)
	y := int(float64(r.BBox.Y) + (float64(r.BBox.Height)-size)/2)
	w, h := snapAreaSize, snapAreaSize
	radius := size / 2
	cx, cy := radius, radius
	if x < 0 {
		w += x
		cx += float64(x)
		x = 0
	}
	if y < 0 {
		h += y
		cy += float64(y)
		y = 0
	}
	if r.ImageSize.Width > 0 && x+w > r.ImageSize.Width {
		w = r.ImageSize.Width - x
	}
	if r.ImageSize.Height > 0 && y+h > r.ImageSize.Height {
		h = r.ImageSize.Height - y
	}
	if w <= 0 || h <= 0 {
		return
	}
	r.snapBox = geometry.NewRectInt(x, y, w, h)
	r.snapMask = img.NewMask(w, h)
	r.snapMask.FillCircle(cx, cy, radius)
	r.snapArea = r.snapMask.CountNonZero()
}

// ClassId returns the class the ROI is assigned to.
func (r *ROI) ClassId() enums.ClassId { return r.Id.ClassId }

// Plane returns the plane the ROI was found in.
func (r *ROI) Plane() enums.PlaneId { return r.Id.Plane }

// AreaSize is the number of set mask pixels.
func (r *ROI) AreaSize() int { return r.areaSize }

// Perimeter is the traced boundary length.
func (r *ROI) Perimeter() float64 { return r.perimeter }

// Circularity is 4*pi*area/perimeter^2 limited to [0,1].
func (r *ROI) Circularity() float64 { return r.circularity }

// HasSnapArea reports whether an enlarged snap area was built.
func (r *ROI) HasSnapArea() bool { return r.snapMask != nil }

// SnapAreaBBox returns the snap box, or the bounding box without snap area.
func (r *ROI) SnapAreaBBox() geometry.RectInt {
	if r.HasSnapArea() {
		return r.snapBox
	}
	return r.BBox
}

// SnapAreaMask returns the snap mask, or the mask without snap area.
func (r *ROI) SnapAreaMask() *img.Mask {
	if r.HasSnapArea() {
		return r.snapMask
	}
	return r.Mask
}

func (r *ROI) snapAreaSize() int {
	if r.HasSnapArea() {
		return r.snapArea
	}
	return r.areaSize
}

// ChangeClass reassigns the ROI. Used by classifiers after a filter matched.
func (r *ROI) ChangeClass(class enums.ClassId, confidence float32) {
	r.Id.ClassId = class
	r.Confidence = confidence
}

// ApplyParticleFilter sets the validity. Size is checked before circularity,
// the edge check comes last. The first violated limit decides.
func (r *ROI) ApplyParticleFilter(f MetricsFilter) Validity {
	area := float64(r.areaSize)
	switch {
	case area < f.MinParticleSize:
		r.Validity = TooSmall
	case f.MaxParticleSize > 0 && area > f.MaxParticleSize:
		r.Validity = TooBig
	case r.circularity < f.MinCircularity:
		r.Validity = TooLessCircularity
	case f.ExcludeObjectsAtTheEdge && r.IsAtEdge():
		r.Validity = AtTheEdge
	default:
		r.Validity = Valid
	}
	return r.Validity
}

// IsAtEdge reports whether the bounding box touches the border of the image
// the ROI was found in.
func (r *ROI) IsAtEdge() bool {
	if r.BBox.X <= 0 || r.BBox.Y <= 0 {
		return true
	}
	if r.ImageSize.Width > 0 && r.BBox.Right() >= r.ImageSize.Width {
		return true
	}
	return r.ImageSize.Height > 0 && r.BBox.Bottom() >= r.ImageSize.Height
}

// MeasureIntensityAndAdd computes avg, min and max of the pixels selected by
// the mask and stores the result for channel c. A second call overwrites.
func (r *ROI) MeasureIntensityAndAdd(c int32, image *img.Image16) Intensity {
	res, err := measureIntensity(r.BBox, r.Mask, image)
	if err != nil {
		res = Intensity{}
	}
	if r.intensities == nil {
		r.intensities = map[int32]Intensity{}
	}
	r.intensities[c] = res
	return res
}

// IntensityIn measures like MeasureIntensityAndAdd without storing the
// result.
func (r *ROI) IntensityIn(image *img.Image16) Intensity {
	res, err := measureIntensity(r.BBox, r.Mask, image)
	if err != nil {
		return Intensity{}
	}
	return res
}

// measureIntensity evaluates the masked pixels of box that lie inside the
// image. Unselected pixels are set to the neutral value of min and max
// before the extremes are searched.
func measureIntensity(box geometry.RectInt, mask *img.Mask, image *img.Image16) (Intensity, error) {
	if image == nil || image.Empty() || mask == nil {
		return Intensity{}, nil
	}
	clip := box.Intersect(image.Bounds())
	if clip.Empty() {
		return Intensity{}, nil
	}
	sub := img.NewMask(clip.Width, clip.Height)
	for y := 0; y < clip.Height; y++ {
		src := (clip.Y-box.Y+y)*mask.Width + clip.X - box.X
		copy(sub.Pix[y*clip.Width:(y+1)*clip.Width], mask.Pix[src:src+clip.Width])
	}
	if sub.CountNonZero() == 0 {
		return Intensity{}, nil
	}

	src, err := image.Crop(clip).ToMat()
	if err != nil {
		return Intensity{}, err
	}
	defer src.Close()
	m, err := sub.ToMat()
	if err != nil {
		return Intensity{}, err
	}
	defer m.Close()

	lo := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(65535, 0, 0, 0), clip.Height, clip.Width, gocv.MatTypeCV16UC1)
	defer lo.Close()
	src.CopyToWithMask(&lo, m)
	minVal, _, _, _ := gocv.MinMaxLoc(lo)

	hi := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), clip.Height, clip.Width, gocv.MatTypeCV16UC1)
	defer hi.Close()
	src.CopyToWithMask(&hi, m)
	_, maxVal, _, _ := gocv.MinMaxLoc(hi)

	return Intensity{
		Avg: src.MeanWithMask(m).Val1,
		Min: float64(minVal),
		Max: float64(maxVal),
	}, nil
}

// Intensity returns the stored measurement of channel c.
func (r *ROI) Intensity(c int32) (Intensity, bool) {
	v, ok := r.intensities[c]
	return v, ok
}

// Intensities returns all stored measurements keyed by channel.
func (r *ROI) Intensities() map[int32]Intensity {
	return r.intensities
}

// SetIntensity stores a measurement without computing it.
func (r *ROI) SetIntensity(c int32, v Intensity) {
	if r.intensities == nil {
		r.intensities = map[int32]Intensity{}
	}
	r.intensities[c] = v
}

// CenterOfMass returns the mean position of all mask pixels in the coordinate
// system of the bounding box.
func (r *ROI) CenterOfMass() geometry.Point2D {
	var sx, sy float64
	n := 0
	for y := 0; y < r.Mask.Height; y++ {
		for x := 0; x < r.Mask.Width; x++ {
			if r.Mask.Pix[y*r.Mask.Width+x] != 0 {
				sx += float64(x)
				sy += float64(y)
				n++
			}
		}
	}
	if n == 0 {
		return r.BBox.Center()
	}
	return geometry.Point2D{X: float64(r.BBox.X) + sx/float64(n), Y: float64(r.BBox.Y) + sy/float64(n)}
}

// MeasureDistance computes the distance from this ROI's centre of mass to
// the centre and to the contour of other.
func (r *ROI) MeasureDistance(other *ROI) Distance {
	c1 := r.CenterOfMass()
	d := Distance{
		ToClass:        other.ClassId(),
		ToIndex:        other.Index,
		CenterToCenter: c1.Distance(other.CenterOfMass()),
	}
	for i, p := range other.Contour {
		pt := geometry.Point2D{X: float64(other.BBox.X + p.X), Y: float64(other.BBox.Y + p.Y)}
		dist := c1.Distance(pt)
		if i == 0 || dist < d.CenterToSurfaceMin {
			d.CenterToSurfaceMin = dist
		}
		if i == 0 || dist > d.CenterToSurfaceMax {
			d.CenterToSurfaceMax = dist
		}
	}
	return d
}

// AddDistance stores a distance measurement.
func (r *ROI) AddDistance(d Distance) {
	r.distances = append(r.distances, d)
}

// Distances returns the stored distance measurements.
func (r *ROI) Distances() []Distance {
	return r.distances
}

// AddIntersecting records that this ROI overlaps ROI index of class.
func (r *ROI) AddIntersecting(class enums.ClassId, index uint32, valid bool) {
	if r.intersecting == nil {
		r.intersecting = map[enums.ClassId]*Intersecting{}
	}
	entry, ok := r.intersecting[class]
	if !ok {
		entry = &Intersecting{}
		r.intersecting[class] = entry
	}
	if valid {
		entry.Valid = append(entry.Valid, index)
	} else {
		entry.Invalid = append(entry.Invalid, index)
	}
}

// IntersectingRois returns the recorded overlaps keyed by class.
func (r *ROI) IntersectingRois() map[enums.ClassId]*Intersecting {
	return r.intersecting
}

// Translate moves the ROI by (dx, dy). Used to map tile coordinates to image
// coordinates.
func (r *ROI) Translate(dx, dy int) {
	r.BBox = r.BBox.Translate(dx, dy)
	if r.HasSnapArea() {
		r.snapBox = r.snapBox.Translate(dx, dy)
	}
}

// Clone returns a deep copy.
func (r *ROI) Clone() *ROI {
	c := *r
	c.Mask = r.Mask.Clone()
	c.Contour = append([]geometry.PointInt(nil), r.Contour...)
	if r.snapMask != nil {
		c.snapMask = r.snapMask.Clone()
	}
	if r.intensities != nil {
		c.intensities = make(map[int32]Intensity, len(r.intensities))
		for k, v := range r.intensities {
			c.intensities[k] = v
		}
	}
	if r.intersecting != nil {
		c.intersecting = make(map[enums.ClassId]*Intersecting, len(r.intersecting))
		for k, v := range r.intersecting {
			c.intersecting[k] = &Intersecting{
				Valid:   append([]uint32(nil), v.Valid...),
				Invalid: append([]uint32(nil), v.Invalid...),
			}
		}
	}
	c.distances = append([]Distance(nil), r.distances...)
	return &c
}

// Equal compares identity, geometry, mask, contour, validity and intensities.
func (r *ROI) Equal(other *ROI) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.Index != other.Index || r.Id != other.Id || r.Confidence != other.Confidence ||
		r.BBox != other.BBox || r.Validity != other.Validity {
		return false
	}
	if !r.Mask.Equal(other.Mask) || len(r.Contour) != len(other.Contour) {
		return false
	}
	for i := range r.Contour {
		if r.Contour[i] != other.Contour[i] {
			return false
		}
	}
	if len(r.intensities) != len(other.intensities) {
		return false
	}
	for k, v := range r.intensities {
		if ov, ok := other.intensities[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func (r *ROI) String() string {
	return fmt.Sprintf("roi %d %s bbox=%v area=%d", r.Index, r.Id.ClassId, r.BBox, r.areaSize)
}
