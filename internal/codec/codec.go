// Package codec defines the on-store encodings of embedding batches and
// index metadata tables, and the checksummed envelope every blob is
// wrapped in.
//
// Envelope layout (little endian):
//
//	magic   [4]byte
//	crc32   uint32   IEEE checksum of body
//	body    []byte
//
// A blob whose magic or checksum does not match is reported as
// domain.ErrCorruptBlob.
package codec

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// Blob magics.
var (
	MagicBatch    = [4]byte{'S', 'B', 'A', 'T'}
	MagicIndex    = [4]byte{'S', 'I', 'D', 'X'}
	MagicMetadata = [4]byte{'S', 'M', 'E', 'T'}
)

const envelopeHeaderSize = 8

// Seal wraps body in an envelope with the given magic.
func Seal(magic [4]byte, body []byte) []byte {
	out := make([]byte, envelopeHeaderSize+len(body))
	copy(out[:4], magic[:])
	binary.LittleEndian.PutUint32(out[4:8], crc32.ChecksumIEEE(body))
	copy(out[envelopeHeaderSize:], body)
	return out
}

// Open verifies an envelope and returns its body.
func Open(magic [4]byte, data []byte) ([]byte, error) {
	if len(data) < envelopeHeaderSize {
		return nil, fmt.Errorf("%w: blob of %d bytes is shorter than its header", domain.ErrCorruptBlob, len(data))
	}
	if [4]byte(data[:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q, want %q", domain.ErrCorruptBlob, data[:4], magic[:])
	}
	body := data[envelopeHeaderSize:]
	if got, want := crc32.ChecksumIEEE(body), binary.LittleEndian.Uint32(data[4:8]); got != want {
		return nil, fmt.Errorf("%w: checksum %08x, want %08x", domain.ErrCorruptBlob, got, want)
	}
	return body, nil
}

// Float32SliceToBytes converts a []float32 to a little-endian byte slice.
func Float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// BytesToFloat32Slice converts a little-endian byte slice back to []float32.
func BytesToFloat32Slice(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: float data of %d bytes is not a multiple of 4", domain.ErrCorruptBlob, len(data))
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats, nil
}

// Int32SliceToBytes converts a []int32 to a little-endian byte slice.
func Int32SliceToBytes(ints []int32) []byte {
	buf := make([]byte, len(ints)*4)
	for i, v := range ints {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return buf
}

// BytesToInt32Slice converts a little-endian byte slice back to []int32.
func BytesToInt32Slice(data []byte) ([]int32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: int data of %d bytes is not a multiple of 4", domain.ErrCorruptBlob, len(data))
	}
	ints := make([]int32, len(data)/4)
	for i := range ints {
		ints[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return ints, nil
}

// frame prefixes a JSON header with its length and appends the payload:
// u32 header length, header, payload.
func frame(header, payload []byte) []byte {
	out := make([]byte, 4+len(header)+len(payload))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(header)))
	copy(out[4:], header)
	copy(out[4+len(header):], payload)
	return out
}

// unframe splits a body produced by frame.
func unframe(body []byte) (header, payload []byte, err error) {
	if len(body) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated frame", domain.ErrCorruptBlob)
	}
	n := binary.LittleEndian.Uint32(body[:4])
	if uint64(n) > uint64(len(body)-4) {
		return nil, nil, fmt.Errorf("%w: header length %d exceeds frame", domain.ErrCorruptBlob, n)
	}
	return body[4 : 4+n], body[4+n:], nil
}
