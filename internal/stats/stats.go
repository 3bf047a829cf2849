package stats

import (
	"sync"
	"time"
)

const statisticRollingWindows = 5

// ComputeStatistics contains statistics about the materializations performed by a catalog
type ComputeStatistics struct {
	lock                    sync.Mutex
	started                 bool
	finished                bool
	startTime               time.Time
	totalRuntime            int64
	rowsFetched             int64
	rowsGenerated           int64
	chunksComputed          int64
	chunkErrors             int64
	computeCalls            int64
	recentChunkRuntimes     []int64 // for rolling average of recent chunk processing times
	recentChunkRuntimesHead int
}

// Start triggers statistics tracking, if it hasn't been started already
func (cs *ComputeStatistics) Start() {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	if !cs.started {
		cs.started = true
		cs.startTime = time.Now()
		cs.recentChunkRuntimes = make([]int64, statisticRollingWindows)
	}
}

// Finish completes statistics tracking
func (cs *ComputeStatistics) Finish() {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	cs.finished = true
	cs.totalRuntime = time.Since(cs.startTime).Nanoseconds()
}

// ComputeStarted records the beginning of a materialization
func (cs *ComputeStatistics) ComputeStarted() {
	cs.Start()
	cs.lock.Lock()
	defer cs.lock.Unlock()
	cs.computeCalls++
}

// RowsFetched records rows read from a data source
func (cs *ComputeStatistics) RowsFetched(n int) {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	cs.rowsFetched += int64(n)
}

// RowsGenerated records rows produced by a generator
func (cs *ComputeStatistics) RowsGenerated(n int) {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	cs.rowsGenerated += int64(n)
}

// ChunkComputed records the runtime of one evaluated chunk
func (cs *ComputeStatistics) ChunkComputed(d time.Duration, err error) {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	if cs.recentChunkRuntimes == nil {
		cs.recentChunkRuntimes = make([]int64, statisticRollingWindows)
	}
	cs.recentChunkRuntimes[cs.recentChunkRuntimesHead] = d.Nanoseconds()
	cs.recentChunkRuntimesHead = (cs.recentChunkRuntimesHead + 1) % len(cs.recentChunkRuntimes)
	cs.chunksComputed++
	if err != nil {
		cs.chunkErrors++
	}
}

// GetStartTime returns the time of the first materialization
func (cs *ComputeStatistics) GetStartTime() time.Time {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	return cs.startTime
}

// GetRuntime returns the time elapsed since the first materialization
func (cs *ComputeStatistics) GetRuntime() int64 {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	if !cs.started {
		return 0
	}
	if cs.finished {
		return cs.totalRuntime
	}
	return time.Since(cs.startTime).Nanoseconds()
}

// GetNumRowsFetched returns the number of rows read from data sources so far
func (cs *ComputeStatistics) GetNumRowsFetched() int64 {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	return cs.rowsFetched
}

// GetNumRowsGenerated returns the number of rows produced by generators so far
func (cs *ComputeStatistics) GetNumRowsGenerated() int64 {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	return cs.rowsGenerated
}

// GetNumChunksComputed returns the number of chunks evaluated so far, and how many of them failed
func (cs *ComputeStatistics) GetNumChunksComputed() (total int64, failed int64) {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	return cs.chunksComputed, cs.chunkErrors
}

// GetNumComputeCalls returns the number of materializations started so far
func (cs *ComputeStatistics) GetNumComputeCalls() int64 {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	return cs.computeCalls
}

// GetCurrentChunkProcessingTime returns a rolling average of chunk processing time
func (cs *ComputeStatistics) GetCurrentChunkProcessingTime() int64 {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	var total int64
	for _, d := range cs.recentChunkRuntimes {
		total += d
	}
	return total / statisticRollingWindows
}
