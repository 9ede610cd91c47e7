package assets

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// LAS public header layout offsets. The legacy 32-bit point count sits in
// every version; LAS 1.4 moved the authoritative count to a 64-bit field
// at the end of the extended header.
const (
	lasSignature           = "LASF"
	lasVersionMajorOffset  = 24
	lasHeaderSizeOffset    = 94
	lasLegacyCountOffset   = 107
	lasExtendedCountOffset = 247
	lasMinHeaderSize       = 227
	lasExtendedHeaderSize  = 375
)

// LASPointCount reads the point record count from a LAS file's public
// header without loading point data. For LAS 1.4 files the 64-bit
// extended count is preferred when the legacy field is zero.
func LASPointCount(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrAssetRead, path)
	}
	defer f.Close()

	header := make([]byte, lasExtendedHeaderSize)
	n, err := io.ReadFull(f, header)
	if err != nil && n < lasMinHeaderSize {
		return 0, fmt.Errorf("%w: %s: truncated LAS header", ErrAssetRead, path)
	}
	header = header[:n]

	if string(header[:4]) != lasSignature {
		return 0, fmt.Errorf("%w: %s: not a LAS file", ErrAssetRead, path)
	}

	legacy := binary.LittleEndian.Uint32(header[lasLegacyCountOffset:])
	if legacy != 0 {
		return int64(legacy), nil
	}

	versionMajor := header[lasVersionMajorOffset]
	versionMinor := header[lasVersionMajorOffset+1]
	headerSize := binary.LittleEndian.Uint16(header[lasHeaderSizeOffset:])
	if versionMajor == 1 && versionMinor >= 4 &&
		int(headerSize) >= lasExtendedHeaderSize && len(header) >= lasExtendedCountOffset+8 {
		return int64(binary.LittleEndian.Uint64(header[lasExtendedCountOffset:])), nil
	}
	return int64(legacy), nil
}
