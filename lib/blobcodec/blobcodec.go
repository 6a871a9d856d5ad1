// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blobcodec compresses the opaque blobs conveyor keeps in
// SQLite: changed-file lists of modifications and encoded build
// causes. A blob is stored next to a one-byte Tag and its uncompressed
// size; Pack picks the algorithm and Unpack reverses it.
//
// File lists from large commits (vendored dependency bumps, generated
// code) are highly repetitive text, so zstd usually wins. Small or
// already-dense blobs are stored as-is.
package blobcodec

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the compression applied to a stored blob. The values
// are persisted; do not renumber them.
type Tag uint8

const (
	// None stores the blob unchanged.
	None Tag = 0

	// LZ4 is block-mode LZ4, used when zstd gains little.
	LZ4 Tag = 1

	// Zstd is zstd at the default level.
	Zstd Tag = 2
)

func (tag Tag) String() string {
	switch tag {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseTag parses the string form of a Tag.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("blobcodec: unknown compression %q", name)
	}
}

// minimumSize is the smallest blob worth probing. Below it the zstd
// frame overhead eats any gain.
const minimumSize = 128

var errIncompressible = errors.New("blobcodec: data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blobcodec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("blobcodec: zstd decoder initialization failed: " + err.Error())
	}
}

// Select probes data and returns the algorithm to store it with:
// zstd at a ratio of 1.5 or better, LZ4 from 1.1, otherwise None.
func Select(data []byte) Tag {
	if len(data) < minimumSize {
		return None
	}
	compressed := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(compressed))
	switch {
	case ratio >= 1.5:
		return Zstd
	case ratio >= 1.1:
		return LZ4
	default:
		return None
	}
}

// Pack compresses data with the algorithm chosen by Select. If the
// chosen algorithm fails to shrink the data, the blob is stored as
// None. The returned slice may alias data when the tag is None.
func Pack(data []byte) (Tag, []byte, error) {
	tag := Select(data)
	packed, err := Compress(data, tag)
	if errors.Is(err, errIncompressible) {
		return None, data, nil
	}
	if err != nil {
		return 0, nil, err
	}
	return tag, packed, nil
}

// Unpack reverses Pack. size is the original length and is verified.
func Unpack(tag Tag, packed []byte, size int) ([]byte, error) {
	return Decompress(packed, tag, size)
}

// Compress compresses data with the given algorithm.
func Compress(data []byte, tag Tag) ([]byte, error) {
	switch tag {
	case None:
		return data, nil
	case LZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("blobcodec: lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil
	case Zstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("blobcodec: unsupported compression %d", tag)
	}
}

// Decompress decompresses data and checks that the result is exactly
// size bytes long.
func Decompress(compressed []byte, tag Tag, size int) ([]byte, error) {
	switch tag {
	case None:
		if len(compressed) != size {
			return nil, fmt.Errorf("blobcodec: stored size %d does not match expected %d", len(compressed), size)
		}
		return compressed, nil
	case LZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(compressed, destination)
		if err != nil {
			return nil, fmt.Errorf("blobcodec: lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("blobcodec: lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil
	case Zstd:
		result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("blobcodec: zstd decompress: %w", err)
		}
		if len(result) != size {
			return nil, fmt.Errorf("blobcodec: zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("blobcodec: unsupported compression %d", tag)
	}
}
