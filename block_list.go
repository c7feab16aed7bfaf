package suballoc

// blockList holds every block created for one MemoryTypeSignature, in creation order
type blockList struct {
	signature MemoryTypeSignature
	blocks    []*memoryBlock
}

// Allocate scans the blocks in creation order and carves size bytes out of the first one with
// a free range large enough
func (l *blockList) Allocate(size int) (*memoryBlock, int, bool) {
	for _, block := range l.blocks {
		if block == nil {
			panic("block list contains a nil block")
		}

		head, ok := block.Allocate(size)
		if ok {
			return block, head, true
		}
	}

	return nil, 0, false
}

func (l *blockList) AddBlock(block *memoryBlock) {
	l.blocks = append(l.blocks, block)
}

func (l *blockList) Validate() error {
	for _, block := range l.blocks {
		err := block.Validate()
		if err != nil {
			return err
		}
	}

	return nil
}
