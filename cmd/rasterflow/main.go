// Command rasterflow is a debug/inspection tool for on-disk cache
// tiles, mirroring the teacher's cmd/coginfo and cmd/debug: it reports a
// cache file's georeferencing and sample layout, and can render a
// preview PNG of it using internal/encode's tile encoders.
package main

import (
	"fmt"
	"image"
	"os"

	"github.com/spf13/cobra"

	"github.com/rasterflow/rasterflow/internal/encode"
	"github.com/rasterflow/rasterflow/internal/geofile"
)

var rootCmd = &cobra.Command{
	Use:   "rasterflow",
	Short: "Inspect and preview rasterflow on-disk cache tiles",
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <cache-file.tif>",
	Short: "Print a cache tile's georeferencing and sample layout",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var previewCmd = &cobra.Command{
	Use:   "preview <cache-file.tif> <output.png>",
	Short: "Render a cache tile as a Terrarium-encoded PNG preview",
	Args:  cobra.ExactArgs(2),
	RunE:  runPreview,
}

func init() {
	rootCmd.AddCommand(inspectCmd, previewCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	r, err := geofile.Open(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	geo := r.GeoInfo()
	bits, format := r.DType()
	fmt.Printf("File: %s\n", args[0])
	fmt.Printf("Origin: X=%f, Y=%f\n", geo.OriginX, geo.OriginY)
	fmt.Printf("Pixel size: X=%f, Y=%f\n", geo.PixelSizeX, geo.PixelSizeY)
	fmt.Printf("Size: %dx%d, bands=%d\n", geo.Width, geo.Height, r.BandCount())
	fmt.Printf("Sample: %d bits, format=%d\n", bits, format)
	return nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	r, err := geofile.Open(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	geo := r.GeoInfo()
	samples, err := r.ReadWindow(0, 0, geo.Width, geo.Height)
	if err != nil {
		return fmt.Errorf("reading cache tile: %w", err)
	}

	bands := r.BandCount()
	img := image.NewRGBA(image.Rect(0, 0, geo.Width, geo.Height))
	for y := 0; y < geo.Height; y++ {
		for x := 0; x < geo.Width; x++ {
			v := samples[(y*geo.Width+x)*bands]
			img.Set(x, y, encode.ElevationToTerrarium(v))
		}
	}

	var enc encode.Encoder = &encode.TerrariumEncoder{}
	data, err := enc.Encode(img)
	if err != nil {
		return fmt.Errorf("encoding preview: %w", err)
	}
	if err := os.WriteFile(args[1], data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", args[1], err)
	}
	fmt.Printf("Wrote %s (%s, %d bytes)\n", args[1], enc.Format(), len(data))
	return nil
}
