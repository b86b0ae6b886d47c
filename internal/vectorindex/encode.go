package vectorindex

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/sercha-indexer/internal/codec"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// MaxDimension is the largest vector dimension Decode accepts.
const MaxDimension = 1 << 16

// indexHeader is the JSON header of a serialised index.
type indexHeader struct {
	Kind      domain.IndexKind `json:"kind"`
	Dimension int              `json:"dimension"`
	Count     int              `json:"count"`
	NProbe    int              `json:"nprobe,omitempty"`
	ListSizes []int            `json:"list_sizes,omitempty"`
}

// Encode serialises an index built by this package.
//
// Payload layout: normalised vectors, then for IVF the centroids followed
// by the concatenated row ids of every list.
func Encode(idx driven.VectorIndex) ([]byte, error) {
	switch x := idx.(type) {
	case *Flat:
		h := indexHeader{Kind: domain.IndexKindFlat, Dimension: x.dim, Count: x.n}
		return seal(h, codec.Float32SliceToBytes(x.vectors))
	case *IVF:
		h := indexHeader{Kind: domain.IndexKindIVF, Dimension: x.dim, Count: x.n, NProbe: x.nprobe}
		h.ListSizes = make([]int, len(x.lists))
		var rows []int32
		for i, l := range x.lists {
			h.ListSizes[i] = len(l)
			rows = append(rows, l...)
		}
		payload := codec.Float32SliceToBytes(x.vectors)
		payload = append(payload, codec.Float32SliceToBytes(x.centroids)...)
		payload = append(payload, codec.Int32SliceToBytes(rows)...)
		return seal(h, payload)
	default:
		return nil, fmt.Errorf("%w: index type %T", domain.ErrUnsupportedType, idx)
	}
}

func seal(h indexHeader, payload []byte) ([]byte, error) {
	header, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshalling index header: %w", err)
	}
	body := make([]byte, 0, 4+len(header)+len(payload))
	body = binary.LittleEndian.AppendUint32(body, uint32(len(header)))
	body = append(body, header...)
	body = append(body, payload...)
	return codec.Seal(codec.MagicIndex, body), nil
}

// Decode parses a serialised index and checks its structural integrity.
func Decode(data []byte) (driven.VectorIndex, error) {
	body, err := codec.Open(codec.MagicIndex, data)
	if err != nil {
		return nil, err
	}
	if len(body) < 4 {
		return nil, fmt.Errorf("%w: truncated index", domain.ErrCorruptBlob)
	}
	n := binary.LittleEndian.Uint32(body)
	if uint64(n) > uint64(len(body)-4) {
		return nil, fmt.Errorf("%w: index header length %d exceeds blob", domain.ErrCorruptBlob, n)
	}
	var h indexHeader
	if err := json.Unmarshal(body[4:4+n], &h); err != nil {
		return nil, fmt.Errorf("%w: index header: %v", domain.ErrCorruptBlob, err)
	}
	if h.Dimension <= 0 || h.Dimension > MaxDimension || h.Count < 0 {
		return nil, fmt.Errorf("%w: index header dimension=%d count=%d", domain.ErrCorruptBlob, h.Dimension, h.Count)
	}
	payload := body[4+n:]

	if h.Count > len(payload)/(h.Dimension*4) {
		return nil, fmt.Errorf("%w: index payload of %d bytes cannot hold %d vectors of %d dims",
			domain.ErrCorruptBlob, len(payload), h.Count, h.Dimension)
	}
	vecBytes := h.Count * h.Dimension * 4
	vectors, err := codec.BytesToFloat32Slice(payload[:vecBytes])
	if err != nil {
		return nil, err
	}
	payload = payload[vecBytes:]

	switch h.Kind {
	case domain.IndexKindFlat:
		if len(payload) != 0 {
			return nil, fmt.Errorf("%w: %d trailing bytes after flat index", domain.ErrCorruptBlob, len(payload))
		}
		return &Flat{dim: h.Dimension, n: h.Count, vectors: vectors}, nil
	case domain.IndexKindIVF:
		return decodeIVF(h, vectors, payload)
	default:
		return nil, fmt.Errorf("%w: index kind %q", domain.ErrCorruptBlob, h.Kind)
	}
}

func decodeIVF(h indexHeader, vectors []float32, payload []byte) (*IVF, error) {
	nlists := len(h.ListSizes)
	if nlists > maxLists {
		return nil, fmt.Errorf("%w: %d lists exceed limit %d", domain.ErrCorruptBlob, nlists, maxLists)
	}
	centBytes := nlists * h.Dimension * 4
	total := 0
	for _, s := range h.ListSizes {
		if s < 0 || s > h.Count-total {
			return nil, fmt.Errorf("%w: list size %d out of range", domain.ErrCorruptBlob, s)
		}
		total += s
	}
	if total != h.Count {
		return nil, fmt.Errorf("%w: lists hold %d rows, index has %d", domain.ErrCorruptBlob, total, h.Count)
	}
	if len(payload) != centBytes+total*4 {
		return nil, fmt.Errorf("%w: ivf payload is %d bytes, want %d", domain.ErrCorruptBlob, len(payload), centBytes+total*4)
	}
	centroids, err := codec.BytesToFloat32Slice(payload[:centBytes])
	if err != nil {
		return nil, err
	}
	rows, err := codec.BytesToInt32Slice(payload[centBytes:])
	if err != nil {
		return nil, err
	}

	lists := make([][]int32, nlists)
	off := 0
	for i, s := range h.ListSizes {
		lists[i] = rows[off : off+s : off+s]
		off += s
	}
	for _, r := range rows {
		if r < 0 || int(r) >= h.Count {
			return nil, fmt.Errorf("%w: list row %d out of range", domain.ErrCorruptBlob, r)
		}
	}

	nprobe := h.NProbe
	if nprobe <= 0 || nprobe > nlists {
		nprobe = max(1, min(DefaultNProbe, nlists))
	}
	return &IVF{
		dim:       h.Dimension,
		n:         h.Count,
		nprobe:    nprobe,
		vectors:   vectors,
		centroids: centroids,
		lists:     lists,
	}, nil
}
