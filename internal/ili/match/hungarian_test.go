package match

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feasibleMatrix(rows [][]float64) [][]Cell {
	out := make([][]Cell, len(rows))
	for i, r := range rows {
		out[i] = make([]Cell, len(r))
		for j, v := range r {
			if !math.IsNaN(v) {
				out[i][j] = Cell{Cost: v, Feasible: true}
			}
		}
	}
	return out
}

func TestAssign_Empty(t *testing.T) {
	assert.Nil(t, Assign(nil))
	assert.Equal(t, []int{-1, -1}, Assign([][]Cell{{}, {}}))
}

func TestAssign_SquareOptimal(t *testing.T) {
	//   [1 2 3]     optimal: 0→0, 1→1, 2→2 = 10
	//   [4 4 6]
	//   [9 8 5]
	cost := feasibleMatrix([][]float64{
		{1, 2, 3},
		{4, 4, 6},
		{9, 8, 5},
	})
	assert.Equal(t, []int{0, 1, 2}, Assign(cost))
}

func TestAssign_InfeasibleNeverReported(t *testing.T) {
	nan := math.NaN()
	cost := feasibleMatrix([][]float64{
		{1, 2},
		{nan, nan},
	})
	result := Assign(cost)
	require.Len(t, result, 2)
	assert.GreaterOrEqual(t, result[0], 0)
	assert.Equal(t, -1, result[1])
}

func TestAssign_PrefersMoreFeasiblePairs(t *testing.T) {
	nan := math.NaN()
	// Greedy would take row0→col0 (cost 0) and strand row1; the optimum
	// pairs both rows.
	cost := feasibleMatrix([][]float64{
		{0, 14},
		{5, nan},
	})
	assert.Equal(t, []int{1, 0}, Assign(cost))
}

func TestAssign_Rectangular(t *testing.T) {
	rows := feasibleMatrix([][]float64{
		{1, 10},
		{10, 1},
		{5, 5},
	})
	result := Assign(rows)
	assert.Equal(t, []int{0, 1, -1}, result)

	cols := feasibleMatrix([][]float64{
		{7, 1, 9},
	})
	assert.Equal(t, []int{1}, Assign(cols))
}

func TestAssign_TiesAreDeterministic(t *testing.T) {
	cost := feasibleMatrix([][]float64{
		{1, 1},
		{1, 1},
	})
	first := Assign(cost)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Assign(cost))
	}
}

// bruteForce returns the best (cardinality, cost) over all partial
// assignments of rows to distinct feasible columns.
func bruteForce(cost [][]Cell) (int, float64) {
	m := 0
	if len(cost) > 0 {
		m = len(cost[0])
	}
	bestCard, bestCost := -1, math.Inf(1)
	used := make([]bool, m)
	var rec func(i, card int, total float64)
	rec = func(i, card int, total float64) {
		if i == len(cost) {
			if card > bestCard || (card == bestCard && total < bestCost) {
				bestCard, bestCost = card, total
			}
			return
		}
		rec(i+1, card, total)
		for j := 0; j < m; j++ {
			if used[j] || !cost[i][j].Feasible {
				continue
			}
			used[j] = true
			rec(i+1, card+1, total+cost[i][j].Cost)
			used[j] = false
		}
	}
	rec(0, 0, 0)
	return bestCard, bestCost
}

func TestAssign_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(5)
		m := 1 + rng.Intn(5)
		cost := make([][]Cell, n)
		for i := range cost {
			cost[i] = make([]Cell, m)
			for j := range cost[i] {
				if rng.Float64() < 0.65 {
					cost[i][j] = Cell{Cost: math.Round(rng.Float64()*2000) / 100, Feasible: true}
				}
			}
		}

		wantCard, wantCost := bruteForce(cost)

		got := Assign(cost)
		require.Len(t, got, n)
		card, total := 0, 0.0
		seen := map[int]bool{}
		for i, j := range got {
			if j < 0 {
				continue
			}
			require.True(t, cost[i][j].Feasible, "trial %d: infeasible cell reported", trial)
			require.False(t, seen[j], "trial %d: column %d assigned twice", trial, j)
			seen[j] = true
			card++
			total += cost[i][j].Cost
		}
		assert.Equal(t, wantCard, card, "trial %d cardinality", trial)
		assert.InDelta(t, wantCost, total, 1e-6, "trial %d cost", trial)
	}
}
