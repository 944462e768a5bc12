package cache

import (
	"fmt"

	"github.com/x448/float16"
)

// DefaultBlockSize is the number of token slots per physical block.
const DefaultBlockSize = 16

// PagedStore holds key/value state in fixed-size non-contiguous blocks
// referenced through block tables. Entries are stored in half precision;
// the paged kernel assumes a uniform key/value width, so values must be
// padded to the key width before they are written.
type PagedStore struct {
	blockSize int
	heads     int
	headDim   int
	keys      []uint16
	values    []uint16
}

// NewPagedStore allocates numBlocks physical blocks. headDim is the uniform
// per-head entry width for both keys and values.
func NewPagedStore(numBlocks, blockSize, heads, headDim int) *PagedStore {
	if numBlocks <= 0 || blockSize <= 0 || heads <= 0 || headDim <= 0 {
		panic("cache: non-positive paged store geometry")
	}
	n := numBlocks * blockSize * heads * headDim
	return &PagedStore{
		blockSize: blockSize,
		heads:     heads,
		headDim:   headDim,
		keys:      make([]uint16, n),
		values:    make([]uint16, n),
	}
}

// BlockSize returns the number of slots per block.
func (s *PagedStore) BlockSize() int { return s.blockSize }

// NumBlocks returns the number of physical blocks.
func (s *PagedStore) NumBlocks() int {
	return len(s.keys) / (s.blockSize * s.heads * s.headDim)
}

func (s *PagedStore) slotOffset(block, slot, head int) int {
	if block < 0 || block >= s.NumBlocks() {
		panic(fmt.Sprintf("cache: block %d out of range", block))
	}
	if slot < 0 || slot >= s.blockSize {
		panic(fmt.Sprintf("cache: slot %d out of range", slot))
	}
	return ((block*s.blockSize+slot)*s.heads + head) * s.headDim
}

// WriteKeySlot stores one position's key vectors (heads × headDim, flattened
// head-major) at the given physical block and slot.
func (s *PagedStore) WriteKeySlot(block, slot int, k []float32) {
	want := s.heads * s.headDim
	if len(k) != want {
		panic(fmt.Sprintf("cache: WriteKeySlot wants %d elements, got %d", want, len(k)))
	}
	off := s.slotOffset(block, slot, 0)
	for i, x := range k {
		s.keys[off+i] = float16.Fromfloat32(x).Bits()
	}
}

// WriteValueSlot is the value-side counterpart of WriteKeySlot.
func (s *PagedStore) WriteValueSlot(block, slot int, v []float32) {
	want := s.heads * s.headDim
	if len(v) != want {
		panic(fmt.Sprintf("cache: WriteValueSlot wants %d elements, got %d", want, len(v)))
	}
	off := s.slotOffset(block, slot, 0)
	for i, x := range v {
		s.values[off+i] = float16.Fromfloat32(x).Bits()
	}
}

// ReadKey decodes the key vector for (block, slot, head) into dst.
func (s *PagedStore) ReadKey(block, slot, head int, dst []float32) {
	off := s.slotOffset(block, slot, head)
	for i := 0; i < s.headDim; i++ {
		dst[i] = float16.Frombits(s.keys[off+i]).Float32()
	}
}

// ReadValue decodes the value vector for (block, slot, head) into dst.
func (s *PagedStore) ReadValue(block, slot, head int, dst []float32) {
	off := s.slotOffset(block, slot, head)
	for i := 0; i < s.headDim; i++ {
		dst[i] = float16.Frombits(s.values[off+i]).Float32()
	}
}

// PagedMetadata describes where a step's tokens live in the paged store. It
// is owned by the serving session and shared across layers within one step.
type PagedMetadata struct {
	// KeyBlockTables and ValueBlockTables map each sequence's logical block
	// index to a physical block id. They usually alias the same tables.
	KeyBlockTables   [][]int
	ValueBlockTables [][]int
	// ContextLens is the total number of positions per sequence, including
	// the tokens of the current step.
	ContextLens []int

	dummy bool
}

// DummyMetadata returns placeholder metadata for statistics-only passes that
// must not touch the block store. Callers are required to supply an explicit
// attention mask when running with dummy metadata.
func DummyMetadata() *PagedMetadata {
	return &PagedMetadata{dummy: true}
}

// IsDummy reports whether this metadata is a statistics-only placeholder.
func (m *PagedMetadata) IsDummy() bool { return m.dummy }

// Slot resolves a sequence's logical position to (physical block, slot).
func (m *PagedMetadata) Slot(table []int, pos, blockSize int) (int, int) {
	b := pos / blockSize
	if b >= len(table) {
		panic(fmt.Sprintf("cache: position %d beyond block table (len %d)", pos, len(table)))
	}
	return table[b], pos % blockSize
}
