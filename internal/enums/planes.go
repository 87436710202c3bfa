package enums

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PlaneId addresses one 2-D plane in the T x Z x C cube of an image.
// A negative coordinate means "the one currently iterated".
type PlaneId struct {
	TStack int32 `json:"tStack"`
	ZStack int32 `json:"zStack"`
	CStack int32 `json:"cStack"`
}

// CurrentPlane references the plane currently processed.
var CurrentPlane = PlaneId{TStack: -1, ZStack: -1, CStack: -1}

func (p PlaneId) String() string {
	return fmt.Sprintf("t%d-z%d-c%d", p.TStack, p.ZStack, p.CStack)
}

// TileId is a rectangular sub-region of one plane, addressed by its
// position in the tile grid.
type TileId struct {
	TileX      int `json:"tileX"`
	TileY      int `json:"tileY"`
	TileWidth  int `json:"tileWidth"`
	TileHeight int `json:"tileHeight"`
}

func (t TileId) String() string {
	return fmt.Sprintf("%d/%d", t.TileX, t.TileY)
}

// Offset returns the top-left pixel of the tile in image coordinates.
func (t TileId) Offset() (int, int) {
	return t.TileX * t.TileWidth, t.TileY * t.TileHeight
}

// ZProjection selects how a Z stack is reduced to one plane.
type ZProjection int

const (
	ZProjectionNone ZProjection = iota
	ZProjectionMax
	ZProjectionMin
	ZProjectionAvg
	ZProjectionTakeMiddle
	// ZProjectionDefault inherits the projection of the pipeline.
	ZProjectionDefault
)

var zProjectionNames = map[ZProjection]string{
	ZProjectionNone:       "None",
	ZProjectionMax:        "MaxIntensity",
	ZProjectionMin:        "MinIntensity",
	ZProjectionAvg:        "AvgIntensity",
	ZProjectionTakeMiddle: "TakeMiddle",
	ZProjectionDefault:    "$",
}

func (z ZProjection) String() string {
	if name, ok := zProjectionNames[z]; ok {
		return name
	}
	return "Unknown"
}

func (z ZProjection) MarshalText() ([]byte, error) {
	return []byte(z.String()), nil
}

func (z *ZProjection) UnmarshalText(text []byte) error {
	s := string(text)
	for k, v := range zProjectionNames {
		if strings.EqualFold(v, s) {
			*z = k
			return nil
		}
	}
	switch strings.ToUpper(s) {
	case "MAX":
		*z = ZProjectionMax
	case "MIN":
		*z = ZProjectionMin
	case "AVG":
		*z = ZProjectionAvg
	case "TAKE_MIDDLE":
		*z = ZProjectionTakeMiddle
	case "", "NONE":
		*z = ZProjectionNone
	default:
		return fmt.Errorf("unknown z projection %q", s)
	}
	return nil
}

// MemoryIdx selects one of the image slots of a pipeline run.
type MemoryIdx int

const (
	MemoryNone MemoryIdx = -1
	M0         MemoryIdx = iota - 1
	M1
	M2
	M3
	M4
	M5
	M6
	M7
	M8
	M9
	M10
)

// NrOfMemorySlots is the number of addressable image slots.
const NrOfMemorySlots = int(M10) + 1

func (m MemoryIdx) String() string {
	if m < M0 || m > M10 {
		return "None"
	}
	return fmt.Sprintf("M%d", int(m))
}

func (m MemoryIdx) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MemoryIdx) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" || strings.EqualFold(s, "none") {
		*m = MemoryNone
		return nil
	}
	var n int
	if _, err := fmt.Sscanf(strings.ToUpper(s), "M%d", &n); err != nil || n < 0 || n > int(M10) {
		return fmt.Errorf("unknown memory slot %q", s)
	}
	*m = MemoryIdx(n)
	return nil
}

// ImageId identifies an image buffer inside a ProcessContext cache.
type ImageId struct {
	ImagePlane  PlaneId     `json:"imagePlane"`
	ZProjection ZProjection `json:"zProjection"`
	MemoryId    MemoryIdx   `json:"memoryId"`
}

// UnmarshalJSON fills in defaults for fields missing in older documents.
func (i *ImageId) UnmarshalJSON(data []byte) error {
	type plain ImageId
	v := plain{ImagePlane: CurrentPlane, ZProjection: ZProjectionDefault, MemoryId: MemoryNone}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*i = ImageId(v)
	return nil
}

// CurrentImage references the original image of the running iteration.
func CurrentImage() ImageId {
	return ImageId{ImagePlane: CurrentPlane, ZProjection: ZProjectionDefault, MemoryId: MemoryNone}
}

func (i ImageId) String() string {
	if i.MemoryId != MemoryNone {
		return i.MemoryId.String()
	}
	return fmt.Sprintf("%s/%s", i.ImagePlane, i.ZProjection)
}
