package suballoc

import "fmt"

// MemoryTypeSignature identifies a class of memory requirements. Allocations with equal signatures
// share the same list of blocks. The struct is comparable, so equality and map hashing take all
// three fields into account.
type MemoryTypeSignature struct {
	Alignment       int
	MemoryTypeBits  uint32
	MemoryTypeIndex int
}

func (s MemoryTypeSignature) String() string {
	return fmt.Sprintf("{Alignment: %d, MemoryTypeBits: %#x, MemoryTypeIndex: %d}", s.Alignment, s.MemoryTypeBits, s.MemoryTypeIndex)
}
