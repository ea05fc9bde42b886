// Package codec implements the columnar binary wire formats: change
// blobs, document blobs, bundles, and their incremental variants.
package codec

import (
	"encoding/binary"

	"github.com/automerge/automerge-sub002/errs"
)

// Magic is the 4-byte header every chunk (change, document, sync
// message) begins with.
var Magic = [4]byte{0x85, 0x6f, 0x4a, 0x83}

// ChunkType discriminates what follows the magic+length+hash preamble.
type ChunkType byte

const (
	ChunkDocument ChunkType = 0
	ChunkChange   ChunkType = 1
	ChunkSync     ChunkType = 4
)

func putUvarint(buf []byte, v uint64) []byte {
	tmp := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(tmp, v)
	return append(buf, tmp[:n]...)
}

func getUvarint(b []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, nil, errs.New(errs.IntegrityError, "truncated varint")
	}
	return v, b[n:], nil
}

func putZigzag(buf []byte, v int64) []byte {
	return putUvarint(buf, encodeZigzag(v))
}

func getZigzag(b []byte) (int64, []byte, error) {
	u, rest, err := getUvarint(b)
	if err != nil {
		return 0, nil, err
	}
	return decodeZigzag(u), rest, nil
}

func encodeZigzag(v int64) uint64 { return uint64((v << 1) ^ (v >> 63)) }
func decodeZigzag(u uint64) int64 { return int64(u>>1) ^ -int64(u&1) }

func putBytes(buf []byte, b []byte) []byte {
	buf = putUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func getBytes(b []byte) ([]byte, []byte, error) {
	n, rest, err := getUvarint(b)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, errs.New(errs.IntegrityError, "truncated byte string")
	}
	return rest[:n], rest[n:], nil
}

func putString(buf []byte, s string) []byte { return putBytes(buf, []byte(s)) }

func getString(b []byte) (string, []byte, error) {
	raw, rest, err := getBytes(b)
	if err != nil {
		return "", nil, err
	}
	return string(raw), rest, nil
}
