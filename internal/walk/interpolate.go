package walk

// DefaultInterpolationSteps gives t = 0, 0.05, …, 0.95, 1.
const DefaultInterpolationSteps = 20

// Waypoint is one configuration emitted for animation.
type Waypoint struct {
	Step  int       `json:"step"`  // walker step that produced it, 1-based
	Index int       `json:"index"` // position within the step, 0..steps
	T     float64   `json:"t"`
	Q     []float64 `json:"q"`
}

// Interpolate returns steps+1 points on the segment from → to at
// t = i/steps. The first point equals from and the last is exactly to.
// steps < 1 is treated as 1.
func Interpolate(from, to []float64, steps int) [][]float64 {
	if steps < 1 {
		steps = 1
	}
	points := make([][]float64, steps+1)
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps)
		q := make([]float64, len(from))
		for j := range q {
			q[j] = (1-t)*from[j] + t*to[j]
		}
		points[i] = q
	}
	points[steps] = append(make([]float64, 0, len(to)), to...)
	return points
}
