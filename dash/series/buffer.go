// Package series holds the rolling trades-per-second history shown on the dashboard chart.
package series

// MaxPoints is the default number of points a Buffer retains.
const MaxPoints = 120

// Point is a single sample of the trades-per-second series.
type Point struct {
	T int64   `json:"t"` // unix milliseconds
	V float64 `json:"v"`
}

// Buffer is a bounded rolling window of points, oldest first.
// Not safe for concurrent use; the metrics poller serializes access under its lock.
type Buffer struct {
	points []Point
	limit  int
}

// New returns an empty buffer holding at most limit points.
// A non-positive limit falls back to MaxPoints.
func New(limit int) *Buffer {
	if limit <= 0 {
		limit = MaxPoints
	}
	return &Buffer{limit: limit}
}

// Append adds p at the end, drops the oldest points beyond the limit and
// returns the retained window.
func (b *Buffer) Append(p Point) []Point {
	// Full slice expression forces a fresh backing array.
	next := append(b.points[:len(b.points):len(b.points)], p)
	if over := len(next) - b.limit; over > 0 {
		next = next[over:]
	}
	b.points = next
	return b.Points()
}

// Points returns a copy of the retained points, oldest first.
func (b *Buffer) Points() []Point {
	out := make([]Point, len(b.points))
	copy(out, b.points)
	return out
}

// Len reports how many points are retained.
func (b *Buffer) Len() int { return len(b.points) }

// Cap reports the retention limit.
func (b *Buffer) Cap() int { return b.limit }

// Latest returns the newest point.
func (b *Buffer) Latest() (Point, bool) {
	if len(b.points) == 0 {
		return Point{}, false
	}
	return b.points[len(b.points)-1], true
}
