// Package ome parses OME-XML image metadata: series, channels, Z and T stacks
// and the pyramid layout of each series.
package ome

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// PhysicalSize is the size of one pixel.
type PhysicalSize struct {
	SizeX float64 `json:"sizeX"`
	SizeY float64 `json:"sizeY"`
	Unit  string  `json:"unit"`
}

// ChannelInfo describes one channel of a series.
type ChannelInfo struct {
	Id                 int     `json:"id"`
	Name               string  `json:"name"`
	EmissionWavelength float64 `json:"emissionWavelength"`
	ExposureTime       float64 `json:"exposureTime"`
	ContrastMethod     string  `json:"contrastMethod"`
	SamplesPerPixel    int     `json:"samplesPerPixel"`
}

// ImageInfo is everything known about one series.
type ImageInfo struct {
	SeriesIdx      int                   `json:"seriesIdx"`
	Name           string                `json:"name"`
	NrOfChannels   int                   `json:"nrOfChannels"`
	NrOfZStacks    int                   `json:"nrOfZStacks"`
	NrOfTStacks    int                   `json:"nrOfTStacks"`
	DimensionOrder string                `json:"dimensionOrder"`
	PixelType      string                `json:"pixelType"`
	PhysicalSize   PhysicalSize          `json:"physicalSize"`
	Channels       map[int]ChannelInfo   `json:"channels"`
	Resolutions    map[int]*PyramidLevel `json:"resolutions"`
}

// Objective holds the microscope objective, if the metadata names one.
type Objective struct {
	Manufacturer  string  `json:"manufacturer"`
	Model         string  `json:"model"`
	Magnification float64 `json:"magnification"`
	Medium        string  `json:"medium"`
}

// OmeInfo is immutable once parsed.
type OmeInfo struct {
	images    map[int]*ImageInfo
	objective Objective
}

type xmlPixels struct {
	DimensionOrder string  `xml:"DimensionOrder,attr"`
	Type           string  `xml:"Type,attr"`
	SizeX          int     `xml:"SizeX,attr"`
	SizeY          int     `xml:"SizeY,attr"`
	SizeC          int     `xml:"SizeC,attr"`
	SizeZ          int     `xml:"SizeZ,attr"`
	SizeT          int     `xml:"SizeT,attr"`
	SignificantBit int     `xml:"SignificantBits,attr"`
	PhysicalSizeX  float64 `xml:"PhysicalSizeX,attr"`
	PhysicalSizeY  float64 `xml:"PhysicalSizeY,attr"`
	PhysicalUnit   string  `xml:"PhysicalSizeXUnit,attr"`
	BigEndian      string  `xml:"BigEndian,attr"`
	Interleaved    string  `xml:"Interleaved,attr"`
	Channels       []struct {
		ID                 string  `xml:"ID,attr"`
		Name               string  `xml:"Name,attr"`
		SamplesPerPixel    int     `xml:"SamplesPerPixel,attr"`
		ContrastMethod     string  `xml:"ContrastMethod,attr"`
		EmissionWavelength float64 `xml:"EmissionWavelength,attr"`
	} `xml:"Channel"`
	Planes []struct {
		TheZ         int     `xml:"TheZ,attr"`
		TheT         int     `xml:"TheT,attr"`
		TheC         int     `xml:"TheC,attr"`
		ExposureTime float64 `xml:"ExposureTime,attr"`
	} `xml:"Plane"`
}

type xmlImage struct {
	Name              string `xml:"Name,attr"`
	ObjectiveSettings struct {
		Medium string `xml:"Medium,attr"`
	} `xml:"ObjectiveSettings"`
	Pixels xmlPixels `xml:"Pixels"`
}

type xmlOME struct {
	Instrument struct {
		Objective struct {
			Manufacturer         string  `xml:"Manufacturer,attr"`
			Model                string  `xml:"Model,attr"`
			NominalMagnification float64 `xml:"NominalMagnification,attr"`
		} `xml:"Objective"`
	} `xml:"Instrument"`
	Images []xmlImage `xml:"Image"`
}

type xmlPyramid struct {
	Idx             int    `xml:"idx,attr"`
	Width           int    `xml:"width,attr"`
	Height          int    `xml:"height,attr"`
	TileWidth       int    `xml:"TileWidth,attr"`
	TileHeight      int    `xml:"TileHeight,attr"`
	BitsPerPixel    int    `xml:"BitsPerPixel,attr"`
	RGBChannelCount int    `xml:"RGBChannelCount,attr"`
	IsInterleaved   string `xml:"IsInterleaved,attr"`
	IsLittleEndian  string `xml:"IsLittleEndian,attr"`
}

type xmlJODA struct {
	ResolutionCount int          `xml:"ResolutionCount,attr"`
	Pyramids        []xmlPyramid `xml:"PyramidResolution"`
}

// Parse reads an OME-XML document optionally followed by a <JODA> pyramid
// block. An empty input yields an OmeInfo without series.
func Parse(data []byte, defaults PhysicalSize) (*OmeInfo, error) {
	info := &OmeInfo{images: map[int]*ImageInfo{}}
	if len(bytes.TrimSpace(data)) == 0 {
		return info, nil
	}

	doc, joda, err := decodeDocument(data)
	if err != nil {
		return info, err
	}
	if len(doc.Images) == 0 {
		// Element names are matched on their local part, so this only helps
		// when the prefix was written without a namespace declaration.
		alt := swapPrefix(data)
		if doc2, joda2, err2 := decodeDocument(alt); err2 == nil && len(doc2.Images) > 0 {
			doc, joda = doc2, joda2
		}
	}

	info.objective = Objective{
		Manufacturer:  doc.Instrument.Objective.Manufacturer,
		Model:         doc.Instrument.Objective.Model,
		Magnification: doc.Instrument.Objective.NominalMagnification,
	}

	for series, img := range doc.Images {
		if series == 0 {
			info.objective.Medium = img.ObjectiveSettings.Medium
		}
		info.images[series] = buildImageInfo(series, img, joda, defaults)
	}
	return info, nil
}

func decodeDocument(data []byte) (*xmlOME, *xmlJODA, error) {
	doc := &xmlOME{}
	var joda *xmlJODA
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return doc, joda, fmt.Errorf("parse ome xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "OME":
			if err := dec.DecodeElement(doc, &start); err != nil {
				return doc, joda, fmt.Errorf("parse ome xml: %w", err)
			}
		case "JODA":
			joda = &xmlJODA{}
			if err := dec.DecodeElement(joda, &start); err != nil {
				return doc, nil, fmt.Errorf("parse pyramid block: %w", err)
			}
		}
	}
	return doc, joda, nil
}

func swapPrefix(data []byte) []byte {
	s := string(data)
	if strings.Contains(s, "<OME:Image") {
		s = strings.ReplaceAll(s, "<OME:", "<")
		s = strings.ReplaceAll(s, "</OME:", "</")
	} else {
		s = strings.ReplaceAll(s, "<Image", "<OME:Image")
		s = strings.ReplaceAll(s, "</Image", "</OME:Image")
	}
	return []byte(s)
}

func buildImageInfo(series int, img xmlImage, joda *xmlJODA, defaults PhysicalSize) *ImageInfo {
	px := img.Pixels
	info := &ImageInfo{
		SeriesIdx:      series,
		Name:           img.Name,
		NrOfChannels:   max(px.SizeC, 1),
		NrOfZStacks:    max(px.SizeZ, 1),
		NrOfTStacks:    max(px.SizeT, 1),
		DimensionOrder: px.DimensionOrder,
		PixelType:      px.Type,
		PhysicalSize:   defaults,
		Channels:       map[int]ChannelInfo{},
		Resolutions:    map[int]*PyramidLevel{},
	}
	if info.DimensionOrder == "" {
		info.DimensionOrder = "XYZCT"
	}
	if px.PhysicalSizeX > 0 {
		info.PhysicalSize.SizeX = px.PhysicalSizeX
		info.PhysicalSize.SizeY = px.PhysicalSizeY
		if info.PhysicalSize.SizeY == 0 {
			info.PhysicalSize.SizeY = px.PhysicalSizeX
		}
		if px.PhysicalUnit != "" {
			info.PhysicalSize.Unit = px.PhysicalUnit
		} else {
			info.PhysicalSize.Unit = "µm"
		}
	}

	for i, ch := range px.Channels {
		id := channelIdFromString(ch.ID, i)
		name := ch.Name
		if name == "" {
			name = "Unknown"
		}
		info.Channels[id] = ChannelInfo{
			Id:                 id,
			Name:               name,
			EmissionWavelength: ch.EmissionWavelength,
			ContrastMethod:     ch.ContrastMethod,
			SamplesPerPixel:    ch.SamplesPerPixel,
		}
	}
	for _, pl := range px.Planes {
		if ch, ok := info.Channels[pl.TheC]; ok {
			ch.ExposureTime = pl.ExposureTime
			info.Channels[pl.TheC] = ch
		}
	}

	if joda != nil {
		for _, p := range joda.Pyramids {
			bits := p.BitsPerPixel
			info.Resolutions[p.Idx] = &PyramidLevel{
				ImageWidth:       p.Width,
				ImageHeight:      p.Height,
				Bits:             bits,
				RGBChannelCount:  max(p.RGBChannelCount, 1),
				OptimalTileW:     p.TileWidth,
				OptimalTileH:     p.TileHeight,
				IsInterleaved:    parseBool(p.IsInterleaved, false),
				IsLittleEndian:   parseBool(p.IsLittleEndian, true),
				ImageMemoryUsage: int64(p.Width) * int64(p.Height) * int64(bits) / 8,
			}
		}
	}
	if len(info.Resolutions) == 0 && px.SizeX > 0 && px.SizeY > 0 {
		bits := bitsOfPixelType(px.Type, px.SignificantBit)
		info.Resolutions[0] = &PyramidLevel{
			ImageWidth:       px.SizeX,
			ImageHeight:      px.SizeY,
			Bits:             bits,
			RGBChannelCount:  1,
			OptimalTileW:     px.SizeX,
			OptimalTileH:     px.SizeY,
			IsInterleaved:    parseBool(px.Interleaved, false),
			IsLittleEndian:   !parseBool(px.BigEndian, false),
			ImageMemoryUsage: int64(px.SizeX) * int64(px.SizeY) * int64(bits) / 8,
		}
	}
	return info
}

// channelIdFromString returns the number after the last ':' of a channel ID
// like "Channel:0:2". Unparsable IDs fall back to the position.
func channelIdFromString(id string, fallback int) int {
	idx := strings.LastIndex(id, ":")
	if idx < 0 {
		return fallback
	}
	v, err := strconv.Atoi(id[idx+1:])
	if err != nil {
		return fallback
	}
	return v
}

func bitsOfPixelType(t string, significant int) int {
	switch strings.ToLower(t) {
	case "uint8", "int8":
		return 8
	case "uint16", "int16":
		return 16
	case "uint32", "int32", "float":
		return 32
	case "double":
		return 64
	}
	if significant > 0 {
		return significant
	}
	return 16
}

func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(strings.ToLower(s))
	if err != nil {
		return def
	}
	return v
}

// New builds an OmeInfo from already assembled series, e.g. for formats without OME-XML.
func New(images ...*ImageInfo) *OmeInfo {
	info := &OmeInfo{images: map[int]*ImageInfo{}}
	for i, img := range images {
		img.SeriesIdx = i
		info.images[i] = img
	}
	return info
}

// Empty reports whether no series was found.
func (o *OmeInfo) Empty() bool {
	return o == nil || len(o.images) == 0
}

// NrOfSeries returns the number of series.
func (o *OmeInfo) NrOfSeries() int {
	if o == nil {
		return 0
	}
	return len(o.images)
}

// Objective returns the objective of the instrument.
func (o *OmeInfo) Objective() Objective {
	return o.objective
}

// SeriesWithHighestResolution returns the series whose level 0 has the most pixels.
func (o *OmeInfo) SeriesWithHighestResolution() int {
	best, bestPixels := 0, int64(-1)
	for _, s := range o.seriesIndexes() {
		lvl, ok := o.images[s].Resolutions[0]
		if !ok {
			continue
		}
		px := int64(lvl.ImageWidth) * int64(lvl.ImageHeight)
		if px > bestPixels {
			best, bestPixels = s, px
		}
	}
	return best
}

func (o *OmeInfo) seriesIndexes() []int {
	idx := make([]int, 0, len(o.images))
	for k := range o.images {
		idx = append(idx, k)
	}
	sort.Ints(idx)
	return idx
}

func (o *OmeInfo) resolveSeries(series int) int {
	if series < 0 {
		return o.SeriesWithHighestResolution()
	}
	return series
}

// ImageInfo returns the info of a series. A negative series selects the one with the highest resolution.
func (o *OmeInfo) ImageInfo(series int) (*ImageInfo, error) {
	if o.Empty() {
		return nil, fmt.Errorf("no series available")
	}
	info, ok := o.images[o.resolveSeries(series)]
	if !ok {
		return nil, fmt.Errorf("series %d not found", series)
	}
	return info, nil
}

func (o *OmeInfo) mustInfo(series int) *ImageInfo {
	info, err := o.ImageInfo(series)
	if err != nil {
		return &ImageInfo{Resolutions: map[int]*PyramidLevel{}, Channels: map[int]ChannelInfo{}}
	}
	return info
}

// ResolutionCount returns the number of pyramid levels of a series.
func (o *OmeInfo) ResolutionCount(series int) int {
	return len(o.mustInfo(series).Resolutions)
}

// NrOfChannels returns the number of channels of a series.
func (o *OmeInfo) NrOfChannels(series int) int {
	return o.mustInfo(series).NrOfChannels
}

// NrOfZStacks returns the number of Z planes of a series.
func (o *OmeInfo) NrOfZStacks(series int) int {
	return o.mustInfo(series).NrOfZStacks
}

// NrOfTStacks returns the number of time points of a series.
func (o *OmeInfo) NrOfTStacks(series int) int {
	return o.mustInfo(series).NrOfTStacks
}

// Resolution returns one pyramid level.
func (o *OmeInfo) Resolution(series, resolution int) (*PyramidLevel, error) {
	info, err := o.ImageInfo(series)
	if err != nil {
		return nil, err
	}
	lvl, ok := info.Resolutions[resolution]
	if !ok {
		return nil, fmt.Errorf("series %d has no resolution %d", series, resolution)
	}
	return lvl, nil
}

// Size returns the full resolution width and height of a series.
func (o *OmeInfo) Size(series int) (int, int) {
	lvl, err := o.Resolution(series, 0)
	if err != nil {
		return 0, 0
	}
	return lvl.ImageWidth, lvl.ImageHeight
}

// Bits returns the bit depth of the full resolution level of a series.
func (o *OmeInfo) Bits(series int) int {
	lvl, err := o.Resolution(series, 0)
	if err != nil {
		return 0
	}
	return lvl.Bits
}

// Channel returns the metadata of one channel.
func (o *OmeInfo) Channel(series, c int) (ChannelInfo, bool) {
	ch, ok := o.mustInfo(series).Channels[c]
	return ch, ok
}

// PlaneIndex maps (z, c, t) to the linear plane number given the dimension
// order of the series. This is the IFD index in an OME-TIFF.
func (o *OmeInfo) PlaneIndex(series, z, c, t int) int {
	info := o.mustInfo(series)
	return PlaneIndex(info.DimensionOrder, z, c, t, info.NrOfZStacks, info.NrOfChannels, info.NrOfTStacks)
}

// PlaneIndex maps (z, c, t) to the linear plane number for a dimension order like XYZCT.
func PlaneIndex(order string, z, c, t, sizeZ, sizeC, sizeT int) int {
	order = strings.ToUpper(order)
	if len(order) != 5 {
		order = "XYZCT"
	}
	idx := 0
	stride := 1
	for _, dim := range order[2:] {
		switch dim {
		case 'Z':
			idx += z * stride
			stride *= sizeZ
		case 'C':
			idx += c * stride
			stride *= sizeC
		case 'T':
			idx += t * stride
			stride *= sizeT
		}
	}
	return idx
}

// SetResolution adds or replaces a pyramid level. Only readers building the
// info from file structures call this before the info is shared.
func (o *OmeInfo) SetResolution(series, resolution int, lvl *PyramidLevel) {
	info, ok := o.images[series]
	if !ok {
		return
	}
	info.Resolutions[resolution] = lvl
}

// SetChannel adds or replaces the metadata of one channel.
func (o *OmeInfo) SetChannel(series int, ch ChannelInfo) {
	info, ok := o.images[series]
	if !ok {
		return
	}
	info.Channels[ch.Id] = ch
}
