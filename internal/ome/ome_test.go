package ome

import (
	"testing"

	"imagec/internal/enums"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOME = `<?xml version="1.0" encoding="UTF-8"?>
<OME xmlns="http://www.openmicroscopy.org/Schemas/OME/2016-06">
  <Instrument ID="Instrument:0">
    <Objective ID="Objective:0" Manufacturer="Zeiss" Model="Plan" NominalMagnification="20"/>
  </Instrument>
  <Image ID="Image:0" Name="well_A01">
    <ObjectiveSettings ID="Objective:0" Medium="Air"/>
    <Pixels ID="Pixels:0" DimensionOrder="XYCZT" Type="uint16" SizeX="2048" SizeY="1024" SizeC="2" SizeZ="3" SizeT="1" PhysicalSizeX="0.5">
      <Channel ID="Channel:0:0" Name="DAPI" EmissionWavelength="461" SamplesPerPixel="1"/>
      <Channel ID="Channel:0:1" Name="GFP" EmissionWavelength="509" SamplesPerPixel="1"/>
      <Plane TheZ="0" TheT="0" TheC="0" ExposureTime="100"/>
      <Plane TheZ="0" TheT="0" TheC="1" ExposureTime="250"/>
    </Pixels>
  </Image>
</OME>
<JODA ResolutionCount="2">
  <PyramidResolution idx="0" width="2048" height="1024" TileWidth="512" TileHeight="512" BitsPerPixel="16"/>
  <PyramidResolution idx="1" width="1024" height="512" TileWidth="512" TileHeight="512" BitsPerPixel="16"/>
</JODA>`

func TestParseOME(t *testing.T) {
	info, err := Parse([]byte(sampleOME), PhysicalSize{})
	require.NoError(t, err)

	assert.Equal(t, 1, info.NrOfSeries())
	assert.Equal(t, 2, info.NrOfChannels(0))
	assert.Equal(t, 3, info.NrOfZStacks(0))
	assert.Equal(t, 1, info.NrOfTStacks(0))
	assert.Equal(t, 2, info.ResolutionCount(0))

	w, h := info.Size(0)
	assert.Equal(t, 2048, w)
	assert.Equal(t, 1024, h)
	assert.Equal(t, 16, info.Bits(0))

	ch, ok := info.Channel(0, 1)
	require.True(t, ok)
	assert.Equal(t, "GFP", ch.Name)
	assert.Equal(t, 509.0, ch.EmissionWavelength)
	assert.Equal(t, 250.0, ch.ExposureTime)

	lvl, err := info.Resolution(0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2048*1024*2), lvl.ImageMemoryUsage)

	assert.Equal(t, "Zeiss", info.Objective().Manufacturer)
	assert.Equal(t, "Air", info.Objective().Medium)

	img, err := info.ImageInfo(0)
	require.NoError(t, err)
	assert.Equal(t, 0.5, img.PhysicalSize.SizeX)
}

func TestParsePrefixedOME(t *testing.T) {
	doc := `<OME:OME xmlns:OME="http://www.openmicroscopy.org/Schemas/OME/2016-06">
  <OME:Image ID="Image:0" Name="x">
    <OME:Pixels DimensionOrder="XYZCT" Type="uint8" SizeX="100" SizeY="50" SizeC="1" SizeZ="1" SizeT="4">
      <OME:Channel ID="Channel:0:0" Name="BF"/>
    </OME:Pixels>
  </OME:Image>
</OME:OME>`
	info, err := Parse([]byte(doc), PhysicalSize{SizeX: 1, SizeY: 1, Unit: "px"})
	require.NoError(t, err)
	require.Equal(t, 1, info.NrOfSeries())
	assert.Equal(t, 4, info.NrOfTStacks(0))
	assert.Equal(t, 8, info.Bits(0))

	lvl, err := info.Resolution(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, lvl.ImageWidth)
	assert.True(t, lvl.IsLittleEndian)

	img, _ := info.ImageInfo(0)
	assert.Equal(t, "px", img.PhysicalSize.Unit)
}

func TestParseEmpty(t *testing.T) {
	info, err := Parse(nil, PhysicalSize{})
	require.NoError(t, err)
	assert.True(t, info.Empty())
	assert.Equal(t, 0, info.NrOfSeries())
	_, err = info.ImageInfo(0)
	assert.Error(t, err)
}

func TestTileMath(t *testing.T) {
	lvl := &PyramidLevel{ImageWidth: 10000, ImageHeight: 5000}
	nx, ny := lvl.NrOfTiles(4096, 4096)
	assert.Equal(t, 3, nx)
	assert.Equal(t, 2, ny)
	assert.Equal(t, 6, lvl.TileCount(4096, 4096))

	for n := 0; n < 6; n++ {
		tile := lvl.TileNrToTile(n, 4096, 4096)
		assert.Equal(t, n, lvl.ToTileNr(tile))
	}
	assert.Equal(t, enums.TileId{TileX: 1, TileY: 1, TileWidth: 4096, TileHeight: 4096}, lvl.TileNrToTile(4, 4096, 4096))
}

func TestPlaneIndex(t *testing.T) {
	// XYZCT: z fastest, then c, then t
	assert.Equal(t, 0, PlaneIndex("XYZCT", 0, 0, 0, 3, 2, 2))
	assert.Equal(t, 2, PlaneIndex("XYZCT", 2, 0, 0, 3, 2, 2))
	assert.Equal(t, 3, PlaneIndex("XYZCT", 0, 1, 0, 3, 2, 2))
	assert.Equal(t, 6, PlaneIndex("XYZCT", 0, 0, 1, 3, 2, 2))
	// XYCZT: c fastest
	assert.Equal(t, 1, PlaneIndex("XYCZT", 0, 1, 0, 3, 2, 2))
	assert.Equal(t, 2, PlaneIndex("XYCZT", 1, 0, 0, 3, 2, 2))
}
