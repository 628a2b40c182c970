package utils

// -----------------------------------------------------------------------------
// PriceWindow is a fixed-size circular buffer of the most recent prices of one
// partition. It only ever holds prices that precede the observation being built.
// -----------------------------------------------------------------------------

type PriceWindow struct {
	data     []float64
	capacity int
	index    int // Next write position
	size     int
}

// -----------------------------------------------------------------------------

// NewPriceWindow creates a window holding at most capacity prices
func NewPriceWindow(capacity int) *PriceWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &PriceWindow{
		data:     make([]float64, capacity),
		capacity: capacity,
	}
}

// -----------------------------------------------------------------------------

// Append pushes a price, evicting the oldest once full
func (w *PriceWindow) Append(price float64) {
	w.data[w.index] = price
	w.index = (w.index + 1) % w.capacity
	if w.size < w.capacity {
		w.size++
	}
}

// -----------------------------------------------------------------------------

// Latest returns up to n most recent prices, oldest first
func (w *PriceWindow) Latest(n int) []float64 {
	if w.size == 0 || n <= 0 {
		return nil
	}
	if n > w.size {
		n = w.size
	}

	result := make([]float64, n)
	start := (w.index - n + w.capacity) % w.capacity
	for i := 0; i < n; i++ {
		result[i] = w.data[(start+i)%w.capacity]
	}
	return result
}

// -----------------------------------------------------------------------------

// Size returns the number of prices held
func (w *PriceWindow) Size() int {
	return w.size
}

// -----------------------------------------------------------------------------

// Capacity returns the maximum number of prices held
func (w *PriceWindow) Capacity() int {
	return w.capacity
}
