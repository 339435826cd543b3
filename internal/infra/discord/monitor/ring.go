package monitor

// ring is a fixed-capacity FIFO; pushing onto a full ring drops the oldest.
type ring[T any] struct {
	buf   []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if len(r.buf) == 0 {
		return
	}
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring[T]) len() int { return r.size }

// values returns the contents oldest first.
func (r *ring[T]) values() []T {
	out := make([]T, r.size)
	for i := range r.size {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// dropWhile removes leading elements for which drop returns true.
func (r *ring[T]) dropWhile(drop func(T) bool) int {
	n := 0
	for r.size > 0 && drop(r.buf[r.start]) {
		var zero T
		r.buf[r.start] = zero
		r.start = (r.start + 1) % len(r.buf)
		r.size--
		n++
	}
	return n
}
