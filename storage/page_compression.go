package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// CompressionType represents the compression algorithm used
type CompressionType uint8

const (
	CompressionNone   CompressionType = 0
	CompressionLZ4    CompressionType = 1
	CompressionSnappy CompressionType = 2
)

// CompressedPage represents a compressed page image with metadata
type CompressedPage struct {
	CompressionType  CompressionType
	UncompressedSize uint16
	CompressedSize   uint16
	CompressedData   []byte
	OriginalChecksum uint32 // CRC32 of original data
}

// Compressed page slot layout:
// [0-1]: Magic number (0xC0DE for compressed pages)
// [2]: Compression type (0=none, 1=LZ4, 2=Snappy)
// [3]: Reserved
// [4-5]: Uncompressed size
// [6-7]: Compressed size
// [8-11]: Original checksum (CRC32)
// [12+]: Compressed data

const (
	CompressedPageMagic     = 0xC0DE
	CompressedHeaderSize    = 12
	MinCompressionThreshold = 100 // Minimum bytes saved to use compression
)

// crc32Checksum computes the checksum stored alongside compressed pages
func crc32Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// CompressPage compresses a page image using the specified algorithm.
// Falls back to storing the image uncompressed when the savings are
// below MinCompressionThreshold.
func CompressPage(data []byte, compressionType CompressionType) (*CompressedPage, error) {
	if len(data) != PageSize {
		return nil, fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(data))
	}

	checksum := crc32Checksum(data)

	var compressed []byte

	switch compressionType {
	case CompressionNone:
		compressed = data

	case CompressionLZ4:
		compressed = make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("LZ4 compression failed: %w", err)
		}
		if n == 0 {
			// Incompressible input: CompressBlock signals this with n == 0
			compressed = data
			compressionType = CompressionNone
		} else {
			compressed = compressed[:n]
		}

	case CompressionSnappy:
		compressed = snappy.Encode(nil, data)

	default:
		return nil, fmt.Errorf("unsupported compression type: %d", compressionType)
	}

	// Check if compression is worthwhile
	if compressionType != CompressionNone {
		savings := len(data) - len(compressed)
		if savings < MinCompressionThreshold {
			compressionType = CompressionNone
			compressed = data
		}
	}

	return &CompressedPage{
		CompressionType:  compressionType,
		UncompressedSize: uint16(len(data)),
		CompressedSize:   uint16(len(compressed)),
		CompressedData:   compressed,
		OriginalChecksum: checksum,
	}, nil
}

// DecompressPage decompresses a compressed page and verifies its checksum
func DecompressPage(cp *CompressedPage) ([]byte, error) {
	var decompressed []byte
	var err error

	switch cp.CompressionType {
	case CompressionNone:
		decompressed = cp.CompressedData

	case CompressionLZ4:
		decompressed = make([]byte, cp.UncompressedSize)
		n, err := lz4.UncompressBlock(cp.CompressedData, decompressed)
		if err != nil {
			return nil, fmt.Errorf("LZ4 decompression failed: %w", err)
		}
		if n != int(cp.UncompressedSize) {
			return nil, fmt.Errorf("LZ4 decompression size mismatch: got %d, expected %d", n, cp.UncompressedSize)
		}

	case CompressionSnappy:
		decompressed, err = snappy.Decode(nil, cp.CompressedData)
		if err != nil {
			return nil, fmt.Errorf("snappy decompression failed: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported compression type: %d", cp.CompressionType)
	}

	if len(decompressed) != int(cp.UncompressedSize) {
		return nil, fmt.Errorf("decompressed size mismatch: got %d, expected %d", len(decompressed), cp.UncompressedSize)
	}

	if crc32Checksum(decompressed) != cp.OriginalChecksum {
		return nil, fmt.Errorf("checksum mismatch after decompression")
	}

	return decompressed, nil
}

// Serialize encodes the compressed page into a disk slot buffer.
// The slot must hold at least CompressedHeaderSize+len(CompressedData) bytes.
func (cp *CompressedPage) Serialize(slot []byte) error {
	needed := CompressedHeaderSize + len(cp.CompressedData)
	if len(slot) < needed {
		return fmt.Errorf("slot too small for compressed page: need %d, have %d", needed, len(slot))
	}

	binary.LittleEndian.PutUint16(slot[0:2], CompressedPageMagic)
	slot[2] = byte(cp.CompressionType)
	slot[3] = 0
	binary.LittleEndian.PutUint16(slot[4:6], cp.UncompressedSize)
	binary.LittleEndian.PutUint16(slot[6:8], cp.CompressedSize)
	binary.LittleEndian.PutUint32(slot[8:12], cp.OriginalChecksum)
	copy(slot[CompressedHeaderSize:], cp.CompressedData)

	return nil
}

// DeserializeCompressedPage decodes a compressed page from a disk slot
func DeserializeCompressedPage(slot []byte) (*CompressedPage, error) {
	if len(slot) < CompressedHeaderSize {
		return nil, fmt.Errorf("slot too small for compressed page header: %d bytes", len(slot))
	}

	magic := binary.LittleEndian.Uint16(slot[0:2])
	if magic != CompressedPageMagic {
		return nil, fmt.Errorf("invalid compressed page magic: 0x%04X", magic)
	}

	cp := &CompressedPage{
		CompressionType:  CompressionType(slot[2]),
		UncompressedSize: binary.LittleEndian.Uint16(slot[4:6]),
		CompressedSize:   binary.LittleEndian.Uint16(slot[6:8]),
		OriginalChecksum: binary.LittleEndian.Uint32(slot[8:12]),
	}

	end := CompressedHeaderSize + int(cp.CompressedSize)
	if end > len(slot) {
		return nil, fmt.Errorf("compressed data truncated: need %d bytes, have %d", end, len(slot))
	}

	cp.CompressedData = make([]byte, cp.CompressedSize)
	copy(cp.CompressedData, slot[CompressedHeaderSize:end])

	return cp, nil
}
