// Command omeinfo prints the OME metadata of an image as the analysis sees it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image/png"
	"os"
	"sort"

	"imagec/internal/enums"
	"imagec/internal/ome"
	"imagec/internal/reader"
)

func main() {
	imagePath := flag.String("image", "", "Path to the image (OME-TIFF, TIFF, PNG or JPEG)")
	asJSON := flag.Bool("json", false, "Print the series as JSON")
	thumbnail := flag.String("thumbnail", "", "Write a thumbnail of channel 0 to this PNG file")
	pixel := flag.Float64("pixel", 0, "Physical pixel size in um used when the file has none")
	flag.Parse()

	if *imagePath == "" {
		fmt.Println("Usage: omeinfo -image <path> [-json] [-thumbnail out.png] [-pixel 0.65]")
		os.Exit(1)
	}

	r := reader.New(0)
	defer r.Close()

	defaults := ome.PhysicalSize{SizeX: *pixel, SizeY: *pixel, Unit: "um"}
	info, err := r.GetOmeInformation(*imagePath, defaults)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read metadata: %v\n", err)
		os.Exit(2)
	}

	var series []*ome.ImageInfo
	for s := 0; s < info.NrOfSeries(); s++ {
		si, err := info.ImageInfo(s)
		if err != nil {
			continue
		}
		series = append(series, si)
	}

	if *asJSON {
		data, err := json.MarshalIndent(series, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
	} else {
		printSeries(info, series)
	}

	if *thumbnail != "" {
		best := info.SeriesWithHighestResolution()
		thumb, err := r.LoadThumbnail(*imagePath, enums.PlaneId{}, best, info)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load thumbnail: %v\n", err)
			os.Exit(2)
		}
		f, err := os.Create(*thumbnail)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", *thumbnail, err)
			os.Exit(2)
		}
		defer f.Close()
		if err := png.Encode(f, thumb.ToGray16()); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write thumbnail: %v\n", err)
			os.Exit(2)
		}
		fmt.Printf("\nThumbnail: %dx%d -> %s\n", thumb.Width, thumb.Height, *thumbnail)
	}
}

func printSeries(info *ome.OmeInfo, series []*ome.ImageInfo) {
	obj := info.Objective()
	if obj.Model != "" || obj.Magnification > 0 {
		fmt.Printf("Objective: %s %s %.0fx\n", obj.Manufacturer, obj.Model, obj.Magnification)
	}
	best := info.SeriesWithHighestResolution()
	for _, s := range series {
		marker := ""
		if s.SeriesIdx == best {
			marker = " (analysed)"
		}
		fmt.Printf("\nSeries %d%s: %s\n", s.SeriesIdx, marker, s.Name)
		fmt.Printf("  Dimensions: C=%d Z=%d T=%d order=%s type=%s\n",
			s.NrOfChannels, s.NrOfZStacks, s.NrOfTStacks, s.DimensionOrder, s.PixelType)
		fmt.Printf("  Pixel size: %.4f x %.4f %s\n", s.PhysicalSize.SizeX, s.PhysicalSize.SizeY, s.PhysicalSize.Unit)

		channels := make([]int, 0, len(s.Channels))
		for c := range s.Channels {
			channels = append(channels, c)
		}
		sort.Ints(channels)
		for _, c := range channels {
			ch := s.Channels[c]
			fmt.Printf("  Channel %d: %q emission=%.0fnm exposure=%.3fs\n", c, ch.Name, ch.EmissionWavelength, ch.ExposureTime)
		}

		levels := make([]int, 0, len(s.Resolutions))
		for l := range s.Resolutions {
			levels = append(levels, l)
		}
		sort.Ints(levels)
		for _, l := range levels {
			lvl := s.Resolutions[l]
			fmt.Printf("  Level %d: %dx%d %d bit, tile %dx%d, %d bytes\n",
				l, lvl.ImageWidth, lvl.ImageHeight, lvl.Bits, lvl.OptimalTileW, lvl.OptimalTileH, lvl.ImageMemoryUsage)
		}
	}
}
