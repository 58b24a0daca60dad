package reorder

// IsLowStock reports whether quantity has reached the reorder threshold.
func IsLowStock(quantity, threshold int) bool {
	return quantity <= threshold
}

// Level is the post-movement stock level of one part.
type Level struct {
	PartID     int64  `json:"part_id"`
	PartNumber string `json:"part_number"`
	Name       string `json:"name,omitempty"`
	Quantity   int    `json:"quantity"`
	Threshold  int    `json:"reorder_threshold"`
	// Sequence orders levels of the same part; zero means unordered.
	Sequence int64 `json:"-"`
}

// Low reports the predicate for this level.
func (l Level) Low() bool { return IsLowStock(l.Quantity, l.Threshold) }

// SuggestedQuantity is how many units bring the part back above threshold.
func (l Level) SuggestedQuantity() int {
	n := l.Threshold - l.Quantity + 1
	if n < 1 {
		return 1
	}
	return n
}
