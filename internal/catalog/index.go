package catalog

import (
	"sync"

	"utiles/internal"
)

type key struct {
	level internal.Level
	grade int
}

// Index groups catalog records by level and grade. Each group keeps the
// catalog order so that tie-breaking in the matcher is unaffected. It is safe
// for concurrent use.
type Index struct {
	mu           sync.RWMutex
	byID         map[int]internal.CourseRecord
	byLevelGrade map[key][]internal.CourseRecord
}

func BuildIndex(records []internal.CourseRecord) *Index {
	idx := &Index{
		byID:         map[int]internal.CourseRecord{},
		byLevelGrade: map[key][]internal.CourseRecord{},
	}
	for _, rec := range records {
		idx.Add(rec)
	}
	return idx
}

// Add appends a record created after the index was built.
func (idx *Index) Add(rec internal.CourseRecord) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byID[rec.ID] = rec
	k := key{level: rec.Level, grade: rec.Grade}
	idx.byLevelGrade[k] = append(idx.byLevelGrade[k], rec)
}

// Candidates returns a copy of the only records that can pass the matcher's
// level and grade gates.
func (idx *Index) Candidates(level internal.Level, grade int) []internal.CourseRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	group := idx.byLevelGrade[key{level: level, grade: grade}]
	out := make([]internal.CourseRecord, len(group))
	copy(out, group)
	return out
}

func (idx *Index) Get(id int) (internal.CourseRecord, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	rec, ok := idx.byID[id]
	return rec, ok
}

func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byID)
}
