package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"utiles/internal/logger"
)

// BatchResult pairs a file with its outcome. Err is set only when the file
// could not be handled; review outcomes are carried in Result.Status.
type BatchResult struct {
	Result FileResult
	Err    error
}

type BatchRunner struct {
	proc    *ProcessingService
	workers int
	log     *logger.Logger
}

func NewBatchRunner(proc *ProcessingService, workers int) *BatchRunner {
	if workers < 1 {
		workers = 1
	}
	return &BatchRunner{proc: proc, workers: workers, log: proc.log}
}

// Run processes uploads concurrently and returns results in input order. A
// failing file does not stop the others; only cancellation of ctx does.
func (b *BatchRunner) Run(ctx context.Context, uploads []Upload) ([]BatchResult, error) {
	start := time.Now()
	results := make([]BatchResult, len(uploads))
	var failed int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, up := range uploads {
		i, up := i, up
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := b.proc.ProcessFile(gctx, up)
			results[i] = BatchResult{Result: res, Err: err}
			if err != nil {
				atomic.AddInt32(&failed, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	b.log.Info("batch done",
		"files", len(uploads),
		"failed", atomic.LoadInt32(&failed),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

// LoadDir reads every PDF of dir, sorted by name.
func LoadDir(dir string) ([]Upload, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	uploads := make([]Upload, 0, len(names))
	for _, name := range names {
		up, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, up)
	}
	return uploads, nil
}

func LoadFile(path string) (Upload, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Upload{}, err
	}
	return Upload{FileName: filepath.Base(path), Content: content}, nil
}

// courseLocks serializes writers of the same course within the process; the
// store's revision check covers writers in other processes.
type courseLocks struct {
	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

func newCourseLocks() *courseLocks {
	return &courseLocks{locks: map[int]*sync.Mutex{}}
}

func (c *courseLocks) lock(courseID int) func() {
	c.mu.Lock()
	m, ok := c.locks[courseID]
	if !ok {
		m = &sync.Mutex{}
		c.locks[courseID] = m
	}
	c.mu.Unlock()
	m.Lock()
	return m.Unlock
}
