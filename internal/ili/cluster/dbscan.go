package cluster

import "math"

// Point is a member projected into the clustering plane. Y is zero in 1D
// mode.
type Point struct {
	X, Y float64
}

// SpatialIndex buckets points into square cells of side CellSize so a
// neighbourhood query only scans the 3×3 block around a point.
type SpatialIndex struct {
	CellSize float64
	Grid     map[int64][]int // cell id → point indices
}

// NewSpatialIndex creates an empty index.
func NewSpatialIndex(cellSize float64) *SpatialIndex {
	return &SpatialIndex{
		CellSize: cellSize,
		Grid:     make(map[int64][]int),
	}
}

// Build populates the index.
func (si *SpatialIndex) Build(points []Point) {
	si.Grid = make(map[int64][]int, len(points))
	for i, p := range points {
		id := cellID(si.cell(p.X), si.cell(p.Y))
		si.Grid[id] = append(si.Grid[id], i)
	}
}

func (si *SpatialIndex) cell(v float64) int64 {
	return int64(math.Floor(v / si.CellSize))
}

// cellID pairs signed cell coordinates into one key: zigzag to make them
// non-negative, then Szudzik's pairing.
func cellID(cx, cy int64) int64 {
	zigzag := func(v int64) int64 {
		if v >= 0 {
			return 2 * v
		}
		return -2*v - 1
	}
	a, b := zigzag(cx), zigzag(cy)
	if a >= b {
		return a*a + a + b
	}
	return a + b*b
}

// RegionQuery returns the indices of all points within eps of points[idx],
// including idx itself.
func (si *SpatialIndex) RegionQuery(points []Point, idx int, eps float64) []int {
	p := points[idx]
	eps2 := eps * eps
	cx, cy := si.cell(p.X), si.cell(p.Y)

	var neighbors []int
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for _, j := range si.Grid[cellID(cx+dx, cy+dy)] {
				q := points[j]
				ddx, ddy := q.X-p.X, q.Y-p.Y
				if ddx*ddx+ddy*ddy <= eps2 {
					neighbors = append(neighbors, j)
				}
			}
		}
	}
	return neighbors
}

// DBSCAN labels points: -1 noise, 1..n cluster. It returns the labels and the
// number of clusters found. A point is core when its eps-neighbourhood,
// itself included, holds at least minSamples points.
func DBSCAN(points []Point, eps float64, minSamples int) ([]int, int) {
	n := len(points)
	labels := make([]int, n) // 0 = unvisited
	if n == 0 {
		return labels, 0
	}

	si := NewSpatialIndex(eps)
	si.Build(points)

	clusterID := 0
	for i := 0; i < n; i++ {
		if labels[i] != 0 {
			continue
		}
		neighbors := si.RegionQuery(points, i, eps)
		if len(neighbors) < minSamples {
			labels[i] = Noise
			continue
		}
		clusterID++
		expand(points, si, labels, i, neighbors, clusterID, eps, minSamples)
	}
	tracef("dbscan: %d points, %d clusters", n, clusterID)
	return labels, clusterID
}

func expand(points []Point, si *SpatialIndex, labels []int,
	seed int, queue []int, clusterID int, eps float64, minSamples int) {

	labels[seed] = clusterID
	for j := 0; j < len(queue); j++ {
		idx := queue[j]
		if labels[idx] == Noise {
			labels[idx] = clusterID // border point
		}
		if labels[idx] != 0 {
			continue
		}
		labels[idx] = clusterID
		next := si.RegionQuery(points, idx, eps)
		if len(next) >= minSamples {
			queue = append(queue, next...)
		}
	}
}
