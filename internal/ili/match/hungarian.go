package match

import "math"

// Cell is one entry of a segment cost matrix. Cost is meaningful only when
// Feasible is set; infeasible cells are pairs the gates ruled out.
type Cell struct {
	Cost     float64
	Feasible bool
}

// minForbiddenCost is the floor for the internal price of infeasible and
// padding cells.
const minForbiddenCost = 1e6

// forbiddenCost prices infeasible cells above the sum of every feasible cost
// so the optimum always maximises the number of feasible pairs first.
func forbiddenCost(cost [][]Cell) float64 {
	sum := 0.0
	for _, row := range cost {
		for _, c := range row {
			if c.Feasible {
				sum += math.Abs(c.Cost)
			}
		}
	}
	return math.Max(minForbiddenCost, 2*sum+1)
}

// Assign solves the rectangular assignment problem for an n×m matrix of
// cells using Kuhn–Munkres with potentials (Jonker–Volgenant variant). It
// returns assignments[i] = column assigned to row i, or -1 when row i has no
// feasible partner in the optimum. Infeasible cells are never returned.
//
// Ties resolve towards the lowest column index, so identical input always
// yields the identical assignment.
func Assign(cost [][]Cell) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	result := make([]int, n)
	for i := range result {
		result[i] = -1
	}
	if m == 0 {
		return result
	}

	dim := n
	if m > dim {
		dim = m
	}
	big := forbiddenCost(cost)

	// Padded square matrix; padding is priced like an infeasible cell.
	c := make([][]float64, dim)
	for i := 0; i < dim; i++ {
		c[i] = make([]float64, dim)
		for j := 0; j < dim; j++ {
			if i < n && j < m && cost[i][j].Feasible {
				c[i][j] = cost[i][j].Cost
			} else {
				c[i][j] = big
			}
		}
	}

	// 1-indexed potentials; index 0 is the virtual column.
	const inf = math.MaxFloat64 / 2

	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1) // p[j] = row assigned to column j
	way := make([]int, dim+1)
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0

		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			if j1 < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	for j := 1; j <= dim; j++ {
		row, col := p[j]-1, j-1
		if row < 0 || row >= n || col >= m {
			continue
		}
		if cost[row][col].Feasible {
			result[row] = col
		}
	}
	return result
}
