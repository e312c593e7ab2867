package device

import (
	"sync"
	"time"
)

// ChunkRecord is one emitted chunk of written data. Data holds exactly
// the chunk's logical length; stale holding-buffer bytes are never
// recorded.
type ChunkRecord struct {
	Seq       uint64    `json:"seq"`
	Write     uint64    `json:"write"`
	Offset    int       `json:"offset"`
	Data      []byte    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Journal is a thread-safe circular buffer of chunk records. It is the
// only readable trace of written content; old records are overwritten
// once capacity is reached.
type Journal struct {
	records []*ChunkRecord
	head    int
	size    int
	maxSize int
	seq     uint64
	mu      sync.RWMutex
}

// NewJournal creates a journal holding up to maxSize records.
func NewJournal(maxSize int) *Journal {
	return &Journal{
		records: make([]*ChunkRecord, maxSize),
		maxSize: maxSize,
	}
}

// Append inserts a record, assigning it the next sequence number.
func (j *Journal) Append(rec *ChunkRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	rec.Seq = j.seq

	j.records[j.head] = rec
	j.head = (j.head + 1) % j.maxSize
	if j.size < j.maxSize {
		j.size++
	}
}

// Recent retrieves up to limit records, newest first.
func (j *Journal) Recent(limit int) []ChunkRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if limit > j.size {
		limit = j.size
	}

	result := make([]ChunkRecord, 0, limit)
	for i := 0; i < j.size && len(result) < limit; i++ {
		idx := (j.head - 1 - i + j.maxSize) % j.maxSize
		if rec := j.records[idx]; rec != nil {
			result = append(result, *rec)
		}
	}
	return result
}

// Len reports how many records the journal currently holds.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.size
}
