package suballoc

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/suballoc/memutils"
)

// CalculateStatistics sums the block, allocation and free range statistics of every block
func (a *Allocator) CalculateStatistics() memutils.DetailedStatistics {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	var stats memutils.DetailedStatistics
	stats.Clear()

	a.visitBlocks(func(block *memoryBlock) {
		block.AddDetailedStatistics(&stats)
	})

	return stats
}

func (a *Allocator) visitBlocks(visit func(block *memoryBlock)) {
	for _, signature := range a.signatures {
		list, _ := a.blockLists.Get(signature)
		for _, block := range list.blocks {
			visit(block)
		}
	}
}

// BuildStatsString produces a JSON document describing the allocator's memory usage. When
// detailedMap is true, every block lists its used and free regions.
func (a *Allocator) BuildStatsString(detailedMap bool) string {
	a.logger.Debug("Allocator::BuildStatsString")

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	writer := jwriter.NewWriter()
	objState := writer.Object()

	var total memutils.DetailedStatistics
	total.Clear()
	a.visitBlocks(func(block *memoryBlock) {
		block.AddDetailedStatistics(&total)
	})

	totalObj := objState.Name("Total").Object()
	total.WriteJSON(&totalObj)
	totalObj.End()

	objState.Name("Frame").Int(int(a.frame))
	objState.Name("PendingReleases").Int(a.releases.Len())

	signaturesArray := objState.Name("Signatures").Array()
	for _, signature := range a.signatures {
		list, _ := a.blockLists.Get(signature)
		a.printBlockList(list, signaturesArray.Object(), detailedMap)
	}
	signaturesArray.End()

	objState.End()
	return string(writer.Bytes())
}

func (a *Allocator) printBlockList(list *blockList, json jwriter.ObjectState, detailedMap bool) {
	defer json.End()

	json.Name("Alignment").Int(list.signature.Alignment)
	json.Name("MemoryTypeBits").Int(int(list.signature.MemoryTypeBits))
	json.Name("MemoryTypeIndex").Int(list.signature.MemoryTypeIndex)

	var stats memutils.DetailedStatistics
	stats.Clear()
	for _, block := range list.blocks {
		block.AddDetailedStatistics(&stats)
	}

	statsObj := json.Name("Stats").Object()
	stats.WriteJSON(&statsObj)
	statsObj.End()

	if !detailedMap {
		return
	}

	blocksArray := json.Name("Blocks").Array()
	defer blocksArray.End()

	for _, block := range list.blocks {
		blockObj := blocksArray.Object()
		block.PrintDetailedMap(&blockObj)
		blockObj.End()
	}
}
