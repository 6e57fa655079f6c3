package dataset

import (
	"fmt"
	"math/rand"
	"sync"

	"voxseg/tensor"
)

// Batch holds a stacked batch of samples. Images and Labels gain a leading
// batch dimension; Indices records which dataset samples were grouped, in
// batch order.
type Batch struct {
	Images  *tensor.Tensor
	Labels  *tensor.Tensor
	Indices []int
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return len(b.Indices)
}

// Loader wraps a Dataset with batching, optional per-pass shuffling and a
// bounded worker pool for per-sample fetch and transform. Sample grouping
// within a batch follows the pass's index permutation; a fresh permutation is
// drawn at the start of every pass when shuffling is enabled.
type Loader struct {
	dataset    Dataset
	batchSize  int
	shuffle    bool
	numWorkers int
	rng        *rand.Rand
	indices    []int
	position   int
	mutex      sync.Mutex
}

// LoaderConfig holds loader construction options.
type LoaderConfig struct {
	BatchSize  int
	Shuffle    bool
	NumWorkers int // parallel sample fetchers; <= 1 means synchronous loading
	Seed       int64
}

// NewLoader creates a loader over the dataset.
func NewLoader(ds Dataset, cfg LoaderConfig) (*Loader, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}
	l := &Loader{
		dataset:    ds,
		batchSize:  cfg.BatchSize,
		shuffle:    cfg.Shuffle,
		numWorkers: cfg.NumWorkers,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		indices:    indices,
	}
	if cfg.Shuffle {
		l.reshuffle()
	}
	return l, nil
}

// NumBatches returns the number of batches per pass.
func (l *Loader) NumBatches() int {
	return (l.dataset.Len() + l.batchSize - 1) / l.batchSize
}

// Reset starts a new pass, drawing a fresh permutation when shuffling.
func (l *Loader) Reset() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.position = 0
	if l.shuffle {
		l.reshuffle()
	}
}

func (l *Loader) reshuffle() {
	l.rng.Shuffle(len(l.indices), func(i, j int) {
		l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
	})
}

// Next returns the next batch, or (nil, nil) when the pass is exhausted.
func (l *Loader) Next() (*Batch, error) {
	l.mutex.Lock()
	if l.position >= len(l.indices) {
		l.mutex.Unlock()
		return nil, nil
	}
	end := l.position + l.batchSize
	if end > len(l.indices) {
		end = len(l.indices)
	}
	batchIndices := append([]int(nil), l.indices[l.position:end]...)
	l.position = end
	l.mutex.Unlock()

	return l.loadBatch(batchIndices)
}

// loadBatch fetches and transforms every sample of the batch, in parallel
// across the worker pool, then stacks results preserving batch order.
func (l *Loader) loadBatch(batchIndices []int) (*Batch, error) {
	n := len(batchIndices)
	images := make([]*tensor.Tensor, n)
	labels := make([]*tensor.Tensor, n)
	errs := make([]error, n)

	if l.numWorkers > 1 {
		var wg sync.WaitGroup
		sem := make(chan struct{}, l.numWorkers)
		for i, idx := range batchIndices {
			wg.Add(1)
			go func(slot, sampleIdx int) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				images[slot], labels[slot], errs[slot] = l.dataset.Get(sampleIdx)
			}(i, idx)
		}
		wg.Wait()
	} else {
		for i, idx := range batchIndices {
			images[i], labels[i], errs[i] = l.dataset.Get(idx)
		}
	}

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", batchIndices[i], err)
		}
	}

	imageBatch, err := tensor.Stack(images)
	if err != nil {
		return nil, fmt.Errorf("failed to stack image batch: %v", err)
	}
	labelBatch, err := tensor.Stack(labels)
	if err != nil {
		return nil, fmt.Errorf("failed to stack label batch: %v", err)
	}
	return &Batch{Images: imageBatch, Labels: labelBatch, Indices: batchIndices}, nil
}
