// Package geom supplies the minimal grid-footprint geometry the scheduler
// needs to drive production: equality under tolerance, grid compatibility,
// intersection, and regular tiling. It is intentionally narrow — not a
// general-purpose geospatial geometry library — grounded on the affine
// origin/pixel-size model the teacher's geofile readers already carry.
package geom

import (
	"fmt"
	"math"
)

// tolerance bounds the floating-point drift two footprints derived from the
// same raster grid are allowed before they're still considered aligned.
const tolerance = 1e-9

// Footprint is an axis-aligned rectangle on a raster's pixel grid: an
// origin in world coordinates, a pixel size, and a pixel-count extent.
// PixelSizeY is stored positive; rows increase downward (south) from
// TopLeftY, matching the convention geofile.GeoInfo already uses.
type Footprint struct {
	TopLeftX   float64
	TopLeftY   float64
	PixelSizeX float64
	PixelSizeY float64
	Width      int
	Height     int
}

// BottomRightX returns the world X coordinate just past the footprint's
// last column.
func (f Footprint) BottomRightX() float64 {
	return f.TopLeftX + float64(f.Width)*f.PixelSizeX
}

// BottomRightY returns the world Y coordinate just past the footprint's
// last row (south edge, since PixelSizeY is stored positive and rows run
// downward).
func (f Footprint) BottomRightY() float64 {
	return f.TopLeftY - float64(f.Height)*f.PixelSizeY
}

// Equal reports whether two footprints describe the same rectangle on the
// same grid, within floating-point tolerance.
func (f Footprint) Equal(other Footprint) bool {
	return f.SameGrid(other) &&
		f.Width == other.Width &&
		f.Height == other.Height &&
		nearly(f.TopLeftX, other.TopLeftX) &&
		nearly(f.TopLeftY, other.TopLeftY)
}

// SameGrid reports whether f and other share an origin grid and pixel
// size, so pixel indices in one correspond 1:1 to pixel indices in the
// other without resampling.
func (f Footprint) SameGrid(other Footprint) bool {
	if !nearly(f.PixelSizeX, other.PixelSizeX) || !nearly(f.PixelSizeY, other.PixelSizeY) {
		return false
	}
	dx := (f.TopLeftX - other.TopLeftX) / f.PixelSizeX
	dy := (f.TopLeftY - other.TopLeftY) / f.PixelSizeY
	return nearlyInt(dx) && nearlyInt(dy)
}

// ShareArea reports whether f and other's rectangles overlap at all.
func (f Footprint) ShareArea(other Footprint) bool {
	return f.TopLeftX < other.BottomRightX() &&
		other.TopLeftX < f.BottomRightX() &&
		other.TopLeftY > f.BottomRightY() &&
		f.TopLeftY > other.BottomRightY()
}

// Intersection returns the overlapping rectangle of f and other, and
// whether one exists. The result is expressed on f's grid; callers must
// check SameGrid first if they need pixel-exact alignment.
func (f Footprint) Intersection(other Footprint) (Footprint, bool) {
	if !f.ShareArea(other) {
		return Footprint{}, false
	}
	left := math.Max(f.TopLeftX, other.TopLeftX)
	right := math.Min(f.BottomRightX(), other.BottomRightX())
	top := math.Min(f.TopLeftY, other.TopLeftY)
	bottom := math.Max(f.BottomRightY(), other.BottomRightY())

	return Footprint{
		TopLeftX:   left,
		TopLeftY:   top,
		PixelSizeX: f.PixelSizeX,
		PixelSizeY: f.PixelSizeY,
		Width:      int(math.Round((right - left) / f.PixelSizeX)),
		Height:     int(math.Round((top - bottom) / f.PixelSizeY)),
	}, true
}

// SliceIn returns the pixel-space offset and size of other within f,
// assuming SameGrid(f, other) holds. The second return is false if other
// is not fully contained in f.
func (f Footprint) SliceIn(other Footprint) (x0, y0, w, h int, ok bool) {
	if !f.SameGrid(other) {
		return 0, 0, 0, 0, false
	}
	x0 = int(math.Round((other.TopLeftX - f.TopLeftX) / f.PixelSizeX))
	y0 = int(math.Round((f.TopLeftY - other.TopLeftY) / f.PixelSizeY))
	w, h = other.Width, other.Height
	if x0 < 0 || y0 < 0 || x0+w > f.Width || y0+h > f.Height {
		return 0, 0, 0, 0, false
	}
	return x0, y0, w, h, true
}

// Tile subdivides f into a regular grid of sub-footprints each at most
// maxW by maxH pixels, in row-major order. Edge tiles are clipped to f's
// extent rather than padded, so the last column/row may be smaller than
// maxW/maxH.
func (f Footprint) Tile(maxW, maxH int) []Footprint {
	if maxW <= 0 || maxH <= 0 {
		return nil
	}
	var tiles []Footprint
	for y := 0; y < f.Height; y += maxH {
		h := maxH
		if y+h > f.Height {
			h = f.Height - y
		}
		for x := 0; x < f.Width; x += maxW {
			w := maxW
			if x+w > f.Width {
				w = f.Width - x
			}
			tiles = append(tiles, Footprint{
				TopLeftX:   f.TopLeftX + float64(x)*f.PixelSizeX,
				TopLeftY:   f.TopLeftY - float64(y)*f.PixelSizeY,
				PixelSizeX: f.PixelSizeX,
				PixelSizeY: f.PixelSizeY,
				Width:      w,
				Height:     h,
			})
		}
	}
	return tiles
}

// Key returns a stable string identifying f's grid position and extent,
// suitable for use as a map key when tracking per-tile state. Two
// footprints on the same grid with the same origin and size always
// produce the same key, regardless of floating-point representation
// noise within tolerance.
func (f Footprint) Key() string {
	round := func(v float64) float64 { return math.Round(v/tolerance) * tolerance }
	return fmt.Sprintf("%g/%g/%g/%g/%d/%d", round(f.TopLeftX), round(f.TopLeftY), f.PixelSizeX, f.PixelSizeY, f.Width, f.Height)
}

func nearly(a, b float64) bool {
	return math.Abs(a-b) <= tolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func nearlyInt(v float64) bool {
	return math.Abs(v-math.Round(v)) <= tolerance*math.Max(1, math.Abs(v))
}
