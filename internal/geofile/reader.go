// Package geofile provides the narrow, external-shaped I/O adapter §1 of the
// specification calls out of scope for the core scheduler: opening,
// windowed-reading, and writing the georeferenced cache-tile files the engine
// persists to disk. Reading is a from-scratch, dependency-free TIFF/GeoTIFF
// decoder (package tiff, adapted from the teacher's COG reader), which
// full-file validation also decodes through; writing defers to
// github.com/airbusgeo/godal, the one real GDAL-backed library the
// retrieved pack offers for this concern.
package geofile

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/rasterflow/rasterflow/internal/geofile/tiff"
)

// SampleFormat mirrors tiff.SampleFormat* for callers that don't want to
// import the tiff subpackage directly.
type SampleFormat = uint16

// GeoInfo describes a cache tile's georeferencing and pixel layout.
type GeoInfo struct {
	EPSG       int
	OriginX    float64
	OriginY    float64
	PixelSizeX float64
	PixelSizeY float64
	Width      int
	Height     int
}

// Reader provides windowed access to a single-resolution, single-IFD
// cache-tile file. The file is memory-mapped for lock-free concurrent reads.
type Reader struct {
	data []byte
	ifd  tiff.IFD
	geo  GeoInfo
	path string
}

// Open memory-maps and parses a cache-tile file's first IFD.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.Size() == 0 {
		return nil, fmt.Errorf("%s: empty file", path)
	}

	data, err := tiff.MmapFile(f.Fd(), int(fi.Size()))
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	ifd, err := tiff.ParseFirstIFD(bytes.NewReader(data))
	if err != nil {
		tiff.MunmapFile(data)
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if ifd.TileWidth == 0 || ifd.TileHeight == 0 {
		if len(ifd.StripOffsets) == 0 {
			tiff.MunmapFile(data)
			return nil, fmt.Errorf("%s: no tile or strip layout found", path)
		}
		ifd = tiff.PromoteStripsToSingleTile(ifd)
	}

	geo := tiff.ExtractGeoInfo(ifd, path)

	return &Reader{
		data: data,
		ifd:  ifd,
		geo: GeoInfo{
			EPSG:       geo.EPSG,
			OriginX:    geo.OriginX,
			OriginY:    geo.OriginY,
			PixelSizeX: geo.PixelSizeX,
			PixelSizeY: geo.PixelSizeY,
			Width:      int(ifd.Width),
			Height:     int(ifd.Height),
		},
		path: path,
	}, nil
}

// Close releases the memory mapping.
func (r *Reader) Close() error {
	if r.data == nil {
		return nil
	}
	err := tiff.MunmapFile(r.data)
	r.data = nil
	return err
}

// GeoInfo returns the parsed georeferencing and pixel layout.
func (r *Reader) GeoInfo() GeoInfo { return r.geo }

// BandCount returns the number of samples per pixel.
func (r *Reader) BandCount() int { return int(r.ifd.SamplesPerPixel) }

// DType reports the sample layout as (bitsPerSample, sampleFormat).
func (r *Reader) DType() (bits int, format SampleFormat) {
	bps := 8
	if len(r.ifd.BitsPerSample) > 0 {
		bps = int(r.ifd.BitsPerSample[0])
	}
	sf := r.ifd.SampleFormat
	if sf == 0 {
		sf = tiff.SampleFormatUnsignedInt
	}
	return bps, sf
}

// ReadWindow decodes the full raster (single tile/virtual tile) into a flat
// row-major []float64 of length Width*Height*BandCount, samples interleaved
// per pixel (band-interleaved-by-pixel), then returns the sub-window
// [x0,y0)-[x0+w,y0+h). Cache tiles are small enough that decoding the whole
// tile once per read keeps the implementation simple and correct; callers
// needing repeat access should cache the Reader.
func (r *Reader) ReadWindow(x0, y0, w, h int) ([]float64, error) {
	full, err := r.readAll()
	if err != nil {
		return nil, err
	}
	bands := int(r.ifd.SamplesPerPixel)
	width := int(r.ifd.Width)
	height := int(r.ifd.Height)
	if x0 < 0 || y0 < 0 || x0+w > width || y0+h > height {
		return nil, fmt.Errorf("window [%d,%d)+[%d,%d) out of bounds %dx%d", x0, x0+w, y0, y0+h, width, height)
	}

	out := make([]float64, w*h*bands)
	for row := 0; row < h; row++ {
		srcOff := ((y0+row)*width + x0) * bands
		dstOff := row * w * bands
		copy(out[dstOff:dstOff+w*bands], full[srcOff:srcOff+w*bands])
	}
	return out, nil
}

// readAll decodes the entire single-IFD raster into row-major float64
// samples, undoing compression and the horizontal-differencing predictor.
func (r *Reader) readAll() ([]float64, error) {
	ifd := &r.ifd
	width := int(ifd.Width)
	height := int(ifd.Height)
	bands := int(ifd.SamplesPerPixel)
	if bands == 0 {
		bands = 1
	}

	var raw []byte
	if len(ifd.TileOffsets) != 1 || len(ifd.TileByteCounts) != 1 {
		return nil, fmt.Errorf("%s: expected a single tile, found %d", r.path, len(ifd.TileOffsets))
	}
	offset := ifd.TileOffsets[0]
	size := ifd.TileByteCounts[0]
	if size == 0 {
		return make([]float64, width*height*bands), nil
	}
	end := offset + size
	if end > uint64(len(r.data)) {
		return nil, fmt.Errorf("%s: tile data [%d:%d] exceeds file size %d", r.path, offset, end, len(r.data))
	}
	chunk := r.data[offset:end]

	switch ifd.Compression {
	case 1:
		raw = chunk
	case 8, 32946:
		dec, err := zlibDecompress(chunk)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		raw = dec
	case 5:
		dec, err := tiff.DecompressLZW(chunk)
		if err != nil {
			return nil, fmt.Errorf("lzw: %w", err)
		}
		raw = dec
	default:
		return nil, fmt.Errorf("unsupported compression %d", ifd.Compression)
	}

	bps := 8
	if len(ifd.BitsPerSample) > 0 {
		bps = int(ifd.BitsPerSample[0])
	}
	bytesPerSample := bps / 8
	if bytesPerSample == 0 {
		bytesPerSample = 1
	}

	if ifd.Predictor == 2 {
		tiff.UndoHorizontalDifferencing(raw, width, bands, bytesPerSample)
	}

	return decodeSamples(raw, width*height*bands, bytesPerSample, ifd.SampleFormat)
}

func decodeSamples(raw []byte, count, bytesPerSample int, format uint16) ([]float64, error) {
	need := count * bytesPerSample
	if len(raw) < need {
		return nil, fmt.Errorf("sample data too short: got %d bytes, need %d", len(raw), need)
	}
	out := make([]float64, count)
	for i := 0; i < count; i++ {
		off := i * bytesPerSample
		switch {
		case format == tiff.SampleFormatFloat && bytesPerSample == 4:
			out[i] = float64(math.Float32frombits(leUint32(raw[off:])))
		case format == tiff.SampleFormatFloat && bytesPerSample == 8:
			out[i] = math.Float64frombits(leUint64(raw[off:]))
		case bytesPerSample == 1:
			if format == tiff.SampleFormatSignedInt {
				out[i] = float64(int8(raw[off]))
			} else {
				out[i] = float64(raw[off])
			}
		case bytesPerSample == 2:
			v := leUint16(raw[off:])
			if format == tiff.SampleFormatSignedInt {
				out[i] = float64(int16(v))
			} else {
				out[i] = float64(v)
			}
		case bytesPerSample == 4:
			v := leUint32(raw[off:])
			if format == tiff.SampleFormatSignedInt {
				out[i] = float64(int32(v))
			} else {
				out[i] = float64(v)
			}
		default:
			return nil, fmt.Errorf("unsupported sample size %d bytes", bytesPerSample)
		}
	}
	return out, nil
}

func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func zlibDecompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
