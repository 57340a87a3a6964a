package telemetry

// DefaultHistoryCapacity is the number of points retained per metric.
const DefaultHistoryCapacity = 50

// Point is a single historized value.
type Point struct {
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp" doc:"Server ingestion time, unix milliseconds"`
}

// HistoryBuffer is a fixed-capacity FIFO of points for one metric.
// It is not safe for concurrent use; Store guards every buffer it owns.
type HistoryBuffer struct {
	points []Point
	head   int // index of the oldest point
	size   int
}

// NewHistoryBuffer creates a buffer holding at most capacity points.
// A capacity below 1 is raised to 1.
func NewHistoryBuffer(capacity int) *HistoryBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &HistoryBuffer{points: make([]Point, capacity)}
}

// Push appends a point, evicting the oldest one when the buffer is full.
func (b *HistoryBuffer) Push(value float64, timestamp int64) {
	p := Point{Value: value, Timestamp: timestamp}
	capacity := len(b.points)
	if b.size < capacity {
		b.points[(b.head+b.size)%capacity] = p
		b.size++
		return
	}
	b.points[b.head] = p
	b.head = (b.head + 1) % capacity
}

// Points returns the retained points oldest-first. The slice is a copy.
func (b *HistoryBuffer) Points() []Point {
	out := make([]Point, b.size)
	capacity := len(b.points)
	for i := 0; i < b.size; i++ {
		out[i] = b.points[(b.head+i)%capacity]
	}
	return out
}

// Len returns the number of retained points.
func (b *HistoryBuffer) Len() int {
	return b.size
}

// Cap returns the buffer capacity.
func (b *HistoryBuffer) Cap() int {
	return len(b.points)
}
