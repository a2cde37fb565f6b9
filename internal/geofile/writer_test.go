package geofile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksumBytesDeterministic(t *testing.T) {
	a := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	b := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	require.Equal(t, ChecksumBytes(a), ChecksumBytes(b))

	c := []byte{1, 2, 3, 4, 5, 6, 7, 8, 10}
	require.NotEqual(t, ChecksumBytes(a), ChecksumBytes(c))
}

func TestChecksumBytesPadsPartialTailWord(t *testing.T) {
	full := ChecksumBytes([]byte{1, 0, 0, 0, 0, 0, 0, 0})
	padded := ChecksumBytes([]byte{1})
	require.Equal(t, full, padded, "a single non-zero byte should checksum the same as that byte zero-padded to a full word")
}

func TestChecksumFileMatchesChecksumBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.bin")
	data := []byte("some cache tile bytes, not a multiple of eight long")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	got, err := ChecksumFile(path)
	require.NoError(t, err)
	require.Equal(t, ChecksumBytes(data), got)
}

func TestChecksumFromName(t *testing.T) {
	cases := []struct {
		name    string
		want    uint64
		wantErr bool
	}{
		{name: "elevation_0123456789abcdef.tif", want: 0x0123456789abcdef},
		{name: "slope_00000000000000ff.tif", want: 0xff},
		{name: "bad.tif", wantErr: true},
		{name: "too_short_abc.tif", wantErr: true},
	}

	for _, tc := range cases {
		got, err := checksumFromName(filepath.Join("/cache", tc.name))
		if tc.wantErr {
			require.Error(t, err, tc.name)
			continue
		}
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.want, got, tc.name)
	}
}

func TestGodalDType(t *testing.T) {
	cases := []struct {
		bits   int
		format SampleFormat
	}{
		{8, 1},
		{16, 1},
		{16, 2},
		{32, 2},
		{32, 3},
		{64, 3},
	}
	for _, tc := range cases {
		// godalDType must not panic for any supported combination; the
		// concrete driver type is exercised end-to-end in the writer
		// integration path, which requires a real GDAL build.
		_ = godalDType(tc.bits, tc.format)
	}
}
