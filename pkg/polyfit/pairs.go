package polyfit

import "fmt"

// OrderPair holds the per-axis degrees of one cross term of a 2D basis.
type OrderPair struct {
	X, Y int
}

// Total returns the total degree of the term.
func (p OrderPair) Total() int { return p.X + p.Y }

func (p OrderPair) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// OrderPairs enumerates every pair with X+Y <= total, by increasing total
// degree and, within a degree, by increasing X:
//
//	0: (0,0)
//	1: (0,1) (1,0)
//	2: (0,2) (1,1) (2,0)
//
// Coefficient vectors are indexed in this order.
func OrderPairs(total int) []OrderPair {
	if total < 0 {
		return nil
	}
	pairs := make([]OrderPair, 0, (total+1)*(total+2)/2)
	for t := 0; t <= total; t++ {
		for x := 0; x <= t; x++ {
			pairs = append(pairs, OrderPair{X: x, Y: t - x})
		}
	}
	return pairs
}
