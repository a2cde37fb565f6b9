package tiff

import (
	"fmt"
	"io"
)

// MmapFile memory-maps a file read-only for lock-free concurrent reads.
func MmapFile(fd uintptr, size int) ([]byte, error) { return mmapFile(fd, size) }

// MunmapFile releases a mapping created by MmapFile.
func MunmapFile(data []byte) error { return munmapFile(data) }

// ParseFirstIFD parses the first Image File Directory of a TIFF/GeoTIFF
// stream. Cache-tile files written by geofile.WriteCacheTile contain
// exactly one IFD.
func ParseFirstIFD(r io.ReadSeeker) (IFD, error) {
	ifds, _, err := parseTIFF(r)
	if err != nil {
		return IFD{}, err
	}
	if len(ifds) == 0 {
		return IFD{}, fmt.Errorf("no IFDs found")
	}
	return ifds[0], nil
}

// PromoteStripsToSingleTile converts a strip-laid-out IFD (RowsPerStrip <
// Height) into a single virtual tile spanning the whole raster, so the
// reader's single-tile assumption holds regardless of how the file was
// produced.
func PromoteStripsToSingleTile(ifd IFD) IFD {
	var totalOffset uint64
	var totalBytes uint64
	if len(ifd.StripOffsets) > 0 {
		totalOffset = ifd.StripOffsets[0]
	}
	for _, c := range ifd.StripByteCounts {
		totalBytes += c
	}
	ifd.TileWidth = ifd.Width
	ifd.TileHeight = ifd.Height
	ifd.TileOffsets = []uint64{totalOffset}
	ifd.TileByteCounts = []uint64{totalBytes}
	return ifd
}

// DecompressLZW decompresses TIFF-style (MSB-first, early code-width
// change) LZW data.
func DecompressLZW(data []byte) ([]byte, error) { return decompressTIFFLZW(data) }

// UndoHorizontalDifferencing reverses TIFF predictor=2 in place. Each sample
// is stored as the difference from the same band's previous pixel in the
// row; this accumulates the deltas back into absolute values.
func UndoHorizontalDifferencing(data []byte, width, bands, bytesPerSample int) {
	sampleStride := bands * bytesPerSample
	rowBytes := width * sampleStride
	for rowStart := 0; rowStart+rowBytes <= len(data); rowStart += rowBytes {
		row := data[rowStart : rowStart+rowBytes]
		for off := sampleStride; off < rowBytes; off += bytesPerSample {
			addLE(row[off:off+bytesPerSample], row[off-sampleStride:off])
		}
	}
}

// addLE adds prev into dst, both little-endian integers of the same width,
// modulo 2^(8*len) — matching TIFF predictor semantics, which operate on raw
// integer sample words regardless of declared sign/float format.
func addLE(dst, prev []byte) {
	var carry uint16
	for i := range dst {
		sum := uint16(dst[i]) + uint16(prev[i]) + carry
		dst[i] = byte(sum)
		carry = sum >> 8
	}
}

// ExtractGeoInfo extracts georeferencing metadata from a parsed IFD, falling
// back to a .tfw sidecar next to path when the IFD carries no GeoTIFF tags,
// and inferring an EPSG code from the coordinate ranges when GeoKeys don't
// supply one.
func ExtractGeoInfo(ifd IFD, path string) GeoInfo {
	geo := parseGeoInfo(&ifd)
	if geo.PixelSizeX == 0 && geo.PixelSizeY == 0 {
		if tfwPath := findTFW(path); tfwPath != "" {
			if tfw, err := parseTFW(tfwPath); err == nil {
				geo = tfw.toGeoInfo()
			}
		}
	}
	if geo.EPSG == 0 && geo.PixelSizeX > 0 {
		geo.EPSG = inferEPSG(geo, ifd.Width, ifd.Height)
	}
	return geo
}
