package ome

import (
	"imagec/internal/enums"
)

// PyramidLevel describes one resolution of a series.
type PyramidLevel struct {
	ImageWidth       int   `json:"imageWidth"`
	ImageHeight      int   `json:"imageHeight"`
	Bits             int   `json:"bits"`
	RGBChannelCount  int   `json:"rgbChannelCount"`
	OptimalTileW     int   `json:"optimalTileWidth"`
	OptimalTileH     int   `json:"optimalTileHeight"`
	IsInterleaved    bool  `json:"isInterleaved"`
	IsLittleEndian   bool  `json:"isLittleEndian"`
	ImageMemoryUsage int64 `json:"imageMemoryUsage"`
}

// NrOfTiles returns the number of tiles in x and y direction.
func (p *PyramidLevel) NrOfTiles(tileW, tileH int) (int, int) {
	if tileW <= 0 || tileH <= 0 {
		return 0, 0
	}
	return ceilDiv(p.ImageWidth, tileW), ceilDiv(p.ImageHeight, tileH)
}

// TileCount returns the total number of tiles.
func (p *PyramidLevel) TileCount(tileW, tileH int) int {
	nx, ny := p.NrOfTiles(tileW, tileH)
	return nx * ny
}

// ToTileNr returns the row-major index of a tile.
func (p *PyramidLevel) ToTileNr(tile enums.TileId) int {
	nx, _ := p.NrOfTiles(tile.TileWidth, tile.TileHeight)
	return tile.TileY*nx + tile.TileX
}

// TileNrToTile is the inverse of ToTileNr.
func (p *PyramidLevel) TileNrToTile(n, tileW, tileH int) enums.TileId {
	nx, _ := p.NrOfTiles(tileW, tileH)
	if nx == 0 {
		return enums.TileId{TileWidth: tileW, TileHeight: tileH}
	}
	return enums.TileId{TileX: n % nx, TileY: n / nx, TileWidth: tileW, TileHeight: tileH}
}

// BytesPerPixel returns the decoded bytes of one pixel including all samples.
func (p *PyramidLevel) BytesPerPixel() int {
	return max(p.Bits/8, 1) * max(p.RGBChannelCount, 1)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
