package geofile

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/google/uuid"
)

func init() {
	godal.RegisterAll()
}

// WriteSpec describes a cache tile to persist to disk: its georeferencing,
// sample layout, and pixel data (row-major, band-interleaved-by-pixel,
// matching Reader.ReadWindow's output layout).
type WriteSpec struct {
	Geo           GeoInfo
	Bands         int
	BitsPerSample int
	SampleFormat  SampleFormat
	Samples       []float64
}

// WriteCacheTile writes samples to a GeoTIFF under dir. The file is built
// at a temp path first (named "tmp_<prefix><uuid4>.<ext>"), its checksum is
// computed over the written bytes, and it is atomically renamed to
// "<prefix>_<checksum>.<ext>" so a reader can never observe a
// partially-written cache tile under its final name, and the checksum in
// the name always matches what's actually on disk.
func WriteCacheTile(dir, prefix, ext string, spec WriteSpec) (path string, checksum uint64, err error) {
	if spec.Geo.Width <= 0 || spec.Geo.Height <= 0 {
		return "", 0, fmt.Errorf("write cache tile: invalid dimensions %dx%d", spec.Geo.Width, spec.Geo.Height)
	}
	if len(spec.Samples) != spec.Geo.Width*spec.Geo.Height*spec.Bands {
		return "", 0, fmt.Errorf("write cache tile: sample count %d does not match %dx%dx%d",
			len(spec.Samples), spec.Geo.Width, spec.Geo.Height, spec.Bands)
	}

	tmpName := fmt.Sprintf("tmp_%s%s.%s", prefix, uuid.NewString(), ext)
	tmpPath := filepath.Join(dir, tmpName)

	if err := writeGeoTIFF(tmpPath, spec); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("write cache tile: %w", err)
	}

	checksum, err = ChecksumFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("write cache tile: %w", err)
	}

	finalName := fmt.Sprintf("%s_%016x.%s", prefix, checksum, ext)
	finalPath := filepath.Join(dir, finalName)

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("write cache tile: rename into place: %w", err)
	}

	return finalPath, checksum, nil
}

// writeGeoTIFF creates a single-IFD GeoTIFF at path via godal, driven by a
// GDAL driver rather than this package's own hand-rolled encoder, since the
// write side never needs to be dependency-free the way the scheduler-facing
// reader does.
func writeGeoTIFF(path string, spec WriteSpec) error {
	dtype := godalDType(spec.BitsPerSample, spec.SampleFormat)

	ds, err := godal.Create(godal.GTiff, path, spec.Bands, dtype, spec.Geo.Width, spec.Geo.Height,
		godal.CreationOption("TILED=YES", "COMPRESS=DEFLATE", "PREDICTOR=2"))
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer ds.Close()

	if err := ds.SetGeoTransform([6]float64{
		spec.Geo.OriginX, spec.Geo.PixelSizeX, 0,
		spec.Geo.OriginY, 0, -spec.Geo.PixelSizeY,
	}); err != nil {
		return fmt.Errorf("setting geotransform: %w", err)
	}

	if spec.Geo.EPSG != 0 {
		sr, err := godal.NewSpatialRefFromEPSG(spec.Geo.EPSG)
		if err != nil {
			return fmt.Errorf("resolving EPSG:%d: %w", spec.Geo.EPSG, err)
		}
		defer sr.Close()
		if err := ds.SetSpatialRef(sr); err != nil {
			return fmt.Errorf("setting spatial ref: %w", err)
		}
	}

	bands := ds.Bands()
	if len(bands) != spec.Bands {
		return fmt.Errorf("driver returned %d bands, wanted %d", len(bands), spec.Bands)
	}

	w, h := spec.Geo.Width, spec.Geo.Height
	planar := make([]float64, w*h)
	for b := 0; b < spec.Bands; b++ {
		for i := 0; i < w*h; i++ {
			planar[i] = spec.Samples[i*spec.Bands+b]
		}
		if err := bands[b].IO(godal.IOWrite, 0, 0, planar, w, h); err != nil {
			return fmt.Errorf("writing band %d: %w", b, err)
		}
	}

	return nil
}

func godalDType(bitsPerSample int, format SampleFormat) godal.DataType {
	switch {
	case format == 3 && bitsPerSample == 32:
		return godal.Float32
	case format == 3 && bitsPerSample == 64:
		return godal.Float64
	case format == 2 && bitsPerSample == 16:
		return godal.Int16
	case format == 2 && bitsPerSample == 32:
		return godal.Int32
	case bitsPerSample == 16:
		return godal.UInt16
	case bitsPerSample == 32:
		return godal.UInt32
	default:
		return godal.Byte
	}
}

// ClampToDType rounds and clamps samples in place to the representable
// range of the integer dtype (bitsPerSample, format) mirrors in
// godalDType; float dtypes are left untouched. A kernel's raw float64
// output is only ever representable once written through a GeoTIFF band
// of this dtype if it has already been brought into range.
func ClampToDType(samples []float64, bitsPerSample int, format SampleFormat) {
	if format == 3 {
		return
	}
	var lo, hi float64
	switch {
	case format == 2 && bitsPerSample == 16:
		lo, hi = math.MinInt16, math.MaxInt16
	case format == 2 && bitsPerSample == 32:
		lo, hi = math.MinInt32, math.MaxInt32
	case bitsPerSample == 16:
		lo, hi = 0, math.MaxUint16
	case bitsPerSample == 32:
		lo, hi = 0, math.MaxUint32
	default:
		lo, hi = 0, 255
	}
	for i, v := range samples {
		v = math.Round(v)
		if v < lo {
			v = lo
		} else if v > hi {
			v = hi
		}
		samples[i] = v
	}
}

// ChecksumBytes computes a streaming 64-bit checksum over data: a plain
// summation (wrapping on overflow) of every little-endian uint64 word, with
// the final partial word zero-padded on the tail. This is the wire-
// compatible equivalent of the reference implementation's streaming
// `np.add.reduce` over the file's raw bytes, so cache files this package
// writes and cache files the reference implementation writes validate
// identically.
func ChecksumBytes(data []byte) uint64 {
	var sum uint64
	n := len(data)
	full := n - n%8
	for i := 0; i < full; i += 8 {
		sum += binary.LittleEndian.Uint64(data[i : i+8])
	}
	if full < n {
		var tail [8]byte
		copy(tail[:], data[full:])
		sum += binary.LittleEndian.Uint64(tail[:])
	}
	return sum
}

// ChecksumFile computes ChecksumBytes over a cache-tile file's raw bytes,
// the same digest WriteCacheTile embeds in its filename, so FileChecker can
// detect truncation or corruption introduced after the write completed.
func ChecksumFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("checksum %s: %w", path, err)
	}
	return ChecksumBytes(data), nil
}

// ValidationSpec is the geometry and layout a candidate cache file is
// expected to satisfy.
type ValidationSpec struct {
	Geo           GeoInfo
	Bands         int
	BitsPerSample int
	SampleFormat  SampleFormat
	Tolerance     float64 // max allowed drift in origin/pixel-size comparisons
}

// ValidateCacheFile opens path and checks its geometry, dtype, and band
// count against want, and confirms the file's embedded checksum (the
// hex-16 suffix of its own basename) matches the checksum of its raw
// bytes. FileChecker uses this before promoting a candidate file to
// visible in the on-disk cache.
func ValidateCacheFile(path string, want ValidationSpec) error {
	r, err := Open(path)
	if err != nil {
		return fmt.Errorf("validate %s: %w", path, err)
	}
	defer r.Close()

	geo := r.GeoInfo()
	tol := want.Tolerance
	if tol == 0 {
		tol = 1e-6
	}
	if geo.Width != want.Geo.Width || geo.Height != want.Geo.Height {
		return fmt.Errorf("validate %s: size %dx%d, want %dx%d", path, geo.Width, geo.Height, want.Geo.Width, want.Geo.Height)
	}
	if math.Abs(geo.PixelSizeX-want.Geo.PixelSizeX) > tol || math.Abs(geo.PixelSizeY-want.Geo.PixelSizeY) > tol {
		return fmt.Errorf("validate %s: pixel size (%g,%g), want (%g,%g)", path, geo.PixelSizeX, geo.PixelSizeY, want.Geo.PixelSizeX, want.Geo.PixelSizeY)
	}
	if math.Abs(geo.OriginX-want.Geo.OriginX) > tol || math.Abs(geo.OriginY-want.Geo.OriginY) > tol {
		return fmt.Errorf("validate %s: origin (%g,%g), want (%g,%g)", path, geo.OriginX, geo.OriginY, want.Geo.OriginX, want.Geo.OriginY)
	}
	if r.BandCount() != want.Bands {
		return fmt.Errorf("validate %s: %d bands, want %d", path, r.BandCount(), want.Bands)
	}
	bits, format := r.DType()
	if bits != want.BitsPerSample || format != want.SampleFormat {
		return fmt.Errorf("validate %s: dtype (%d,%d), want (%d,%d)", path, bits, format, want.BitsPerSample, want.SampleFormat)
	}

	wantChecksum, err := checksumFromName(path)
	if err != nil {
		return fmt.Errorf("validate %s: %w", path, err)
	}
	gotChecksum, err := ChecksumFile(path)
	if err != nil {
		return err
	}
	if gotChecksum != wantChecksum {
		return fmt.Errorf("validate %s: content checksum %016x does not match filename checksum %016x", path, gotChecksum, wantChecksum)
	}
	return nil
}

// checksumFromName extracts the hex-16 checksum embedded in a cache-tile
// filename of the form "<prefix>_<checksum>.<ext>".
func checksumFromName(path string) (uint64, error) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	idx := strings.LastIndexByte(stem, '_')
	if idx < 0 || len(stem)-idx-1 != 16 {
		return 0, fmt.Errorf("filename %q has no 16-hex-digit checksum suffix", base)
	}
	return strconv.ParseUint(stem[idx+1:], 16, 64)
}
