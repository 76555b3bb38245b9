package pca

// Batch is a half-open range [Start, End) of samples fitted together.
type Batch struct {
	Index int
	Start int
	End   int
}

func (b Batch) Size() int { return b.End - b.Start }

// PlanBatches returns the batches the incremental fit walks through for n
// samples. Batches are batchSize long; when the samples left after a batch
// would be fewer than components, that batch takes them all, so the last
// partial fit always sees at least as many samples as components.
func PlanBatches(n, batchSize, components int) []Batch {
	if n <= 0 || batchSize <= 0 {
		return nil
	}

	var batches []Batch
	start, end := 0, batchSize
	for start < n {
		limit := min(end, n)
		if components > n-end {
			limit = n
		}
		batches = append(batches, Batch{Index: len(batches), Start: start, End: limit})
		start = limit
		end = limit + batchSize
	}
	return batches
}
