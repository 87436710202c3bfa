package processor

import (
	"fmt"

	"imagec/internal/apperr"
	"imagec/internal/enums"
	"imagec/internal/ome"
	"imagec/pkg/geometry"
)

// TilePlan is the grid an image is loaded in. Images that fit into memory
// are one tile covering the whole image.
type TilePlan struct {
	Tiled      bool
	TileWidth  int
	TileHeight int
	NrX        int
	NrY        int
}

// NewTilePlan switches to tiles of tileSize when the decoded full
// resolution exceeds maxBytesAtOnce.
func NewTilePlan(lvl *ome.PyramidLevel, maxBytesAtOnce int64, tileSize int) TilePlan {
	usage := lvl.ImageMemoryUsage
	if usage <= 0 {
		usage = int64(lvl.ImageWidth) * int64(lvl.ImageHeight) * int64(lvl.BytesPerPixel())
	}
	if tileSize <= 0 || usage <= maxBytesAtOnce {
		return TilePlan{TileWidth: lvl.ImageWidth, TileHeight: lvl.ImageHeight, NrX: 1, NrY: 1}
	}
	nx, ny := lvl.NrOfTiles(tileSize, tileSize)
	return TilePlan{Tiled: true, TileWidth: tileSize, TileHeight: tileSize, NrX: nx, NrY: ny}
}

// Count returns the number of tiles.
func (p TilePlan) Count() int {
	return p.NrX * p.NrY
}

// Tile returns tile n in row-major order.
func (p TilePlan) Tile(n int) enums.TileId {
	return enums.TileId{TileX: n % p.NrX, TileY: n / p.NrX, TileWidth: p.TileWidth, TileHeight: p.TileHeight}
}

// TileSize returns the nominal tile size. Edge tiles can be smaller.
func (p TilePlan) TileSize() geometry.Size {
	return geometry.Size{Width: p.TileWidth, Height: p.TileHeight}
}

// stackIterations is the number of iterations a handling needs on an axis
// with n planes.
func stackIterations(h enums.StackHandling, n int) int {
	if h == enums.StackEachIndividual {
		return max(n, 1)
	}
	return 1
}

// stackIndex returns the plane a pipeline works on in iteration iter, or
// false if the pipeline does not take part in it. EXACT_ONE and projecting
// pipelines run in the first iteration only.
func stackIndex(h enums.StackHandling, configured int32, iter int) (int32, bool) {
	switch h {
	case enums.StackEachIndividual:
		return int32(iter), true
	case enums.StackIntensityProjection:
		return 0, iter == 0
	}
	return configured, iter == 0
}

// checkStacks fails if a pipeline selects a plane the image does not have.
func checkStacks(runs []*pipelineRun, nT, nZ, nC int) error {
	for _, r := range runs {
		s := r.pipeline.PipelineSetup
		if int(s.CStackIndex) >= nC {
			return apperr.NewDecodeError(fmt.Sprintf("image has no channel %d", s.CStackIndex), nil)
		}
		if s.TStackHandling == enums.StackExactOne && int(s.TStackIndex) >= nT {
			return apperr.NewDecodeError(fmt.Sprintf("image has no time point %d", s.TStackIndex), nil)
		}
		if s.ZStackHandling == enums.StackExactOne && int(s.ZStackIndex) >= nZ {
			return apperr.NewDecodeError(fmt.Sprintf("image has no z plane %d", s.ZStackIndex), nil)
		}
	}
	return nil
}
