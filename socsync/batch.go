package socsync

// BatchRange is batch Index covering records [Start, End).
type BatchRange struct {
	Index int
	Start int
	End   int
}

func (b BatchRange) Len() int { return b.End - b.Start }

// SplitBatches partitions n records into ceil(n/size) contiguous, ordered batches.
func SplitBatches(n, size int) []BatchRange {
	if n <= 0 {
		return nil
	}
	if size <= 0 {
		size = n
	}
	out := make([]BatchRange, 0, (n+size-1)/size)
	for start, i := 0, 0; start < n; start, i = start+size, i+1 {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, BatchRange{Index: i, Start: start, End: end})
	}
	return out
}

// nextGroup returns up to groupSize batches starting at index from.
func nextGroup(batches []BatchRange, from, groupSize int) []BatchRange {
	if from >= len(batches) {
		return nil
	}
	if groupSize < 1 {
		groupSize = 1
	}
	to := from + groupSize
	if to > len(batches) {
		to = len(batches)
	}
	return batches[from:to]
}

// recordsBefore counts the records of batches [0, batchIndex).
func recordsBefore(batches []BatchRange, batchIndex int) int {
	if batchIndex <= 0 || len(batches) == 0 {
		return 0
	}
	if batchIndex >= len(batches) {
		return batches[len(batches)-1].End
	}
	return batches[batchIndex].Start
}

type BatchResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

func (r *BatchResult) Add(o BatchResult) {
	r.Success += o.Success
	r.Failed += o.Failed
}
