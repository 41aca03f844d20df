package preview

// circularBuffer holds the last capacity elements added to it.
type circularBuffer[T any] struct {
	data     []T
	size     int
	capacity int
	head     int
}

func newCircularBuffer[T any](capacity int) *circularBuffer[T] {
	return &circularBuffer[T]{
		data:     make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends item, replacing the oldest element when full.
func (cb *circularBuffer[T]) Add(item T) {
	cb.data[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	if cb.size < cb.capacity {
		cb.size++
	}
}

// GetAll returns the elements oldest first.
func (cb *circularBuffer[T]) GetAll() []T {
	if cb.size == 0 {
		return nil
	}
	result := make([]T, cb.size)
	if cb.size < cb.capacity {
		copy(result, cb.data[:cb.size])
		return result
	}
	n := copy(result, cb.data[cb.head:])
	copy(result[n:], cb.data[:cb.head])
	return result
}

func (cb *circularBuffer[T]) Size() int {
	return cb.size
}

func (cb *circularBuffer[T]) Clear() {
	var zero T
	for i := range cb.data {
		cb.data[i] = zero
	}
	cb.size = 0
	cb.head = 0
}
