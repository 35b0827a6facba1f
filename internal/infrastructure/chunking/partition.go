package chunking

// Step maps an upper bound (inclusive) of a measured quantity to a value.
type Step struct {
	UpTo  int
	Value int
}

// Plan derives chunk sizes and upload concurrency from dataset size.
type Plan struct {
	ChunkSteps       []Step
	MaxChunkSize     int
	ConcurrencySteps []Step
	MaxConcurrency   int
}

func DefaultPlan() Plan {
	return Plan{
		ChunkSteps: []Step{
			{UpTo: 5000, Value: 500},
			{UpTo: 20000, Value: 1000},
			{UpTo: 50000, Value: 2000},
		},
		MaxChunkSize: 5000,
		ConcurrencySteps: []Step{
			{UpTo: 3, Value: 1},
			{UpTo: 10, Value: 2},
			{UpTo: 30, Value: 3},
		},
		MaxConcurrency: 4,
	}
}

// ChunkSize grows with the row count and never exceeds MaxChunkSize.
func (p Plan) ChunkSize(totalRows int) int {
	return stepValue(p.ChunkSteps, p.MaxChunkSize, totalRows)
}

// Concurrency grows with the chunk count and never exceeds MaxConcurrency.
func (p Plan) Concurrency(totalChunks int) int {
	return stepValue(p.ConcurrencySteps, p.MaxConcurrency, totalChunks)
}

func stepValue(steps []Step, ceiling, n int) int {
	if ceiling <= 0 {
		ceiling = 1
	}
	for _, s := range steps {
		if n <= s.UpTo {
			return min(max(s.Value, 1), ceiling)
		}
	}
	return ceiling
}

// Partition splits items into consecutive slices of at most size elements.
// Concatenating the result in order yields items unchanged.
func Partition[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(items)
	}

	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out
}

// Count returns how many chunks Partition would produce.
func Count(total, size int) int {
	if total <= 0 {
		return 0
	}
	if size <= 0 {
		return 1
	}
	return (total + size - 1) / size
}
