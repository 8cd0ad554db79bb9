// Package cluster groups nearby anomalies with density-based clustering so
// interacting corrosion can be assessed together.
package cluster

import (
	"math"
	"sort"

	"github.com/banshee-data/ili.report/internal/ili"
	"github.com/banshee-data/ili.report/internal/ili/growth"
	"github.com/banshee-data/ili.report/internal/ili/match"
)

const (
	// DefaultEpsilon is the neighbourhood radius in feet.
	DefaultEpsilon = 50.0
	// DefaultMinSamples counts the point itself.
	DefaultMinSamples = 2
	// unknownClock places clock-less members at bottom dead centre.
	unknownClock = 180.0
	// Noise is the cluster id for members outside every cluster.
	Noise = -1
)

// Mode selects the feature space.
type Mode string

const (
	// Mode1D clusters on odometer distance only.
	Mode1D Mode = "1d"
	// Mode2D adds the clock position scaled so 360° spans one epsilon.
	Mode2D Mode = "2d"
)

// Params configures DBSCAN.
type Params struct {
	Epsilon    float64 `json:"epsilon"`
	MinSamples int     `json:"min_samples"`
	Mode       Mode    `json:"mode"`
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{Epsilon: DefaultEpsilon, MinSamples: DefaultMinSamples, Mode: Mode1D}
}

// Member is one anomaly to be clustered.
type Member struct {
	Survey     string          `json:"survey"`
	ID         int             `json:"id"`
	Type       ili.FeatureType `json:"feature_type"`
	Distance   float64         `json:"distance"`
	Clock      ili.Measure     `json:"clock_deg"`
	Depth      ili.Measure     `json:"depth_pct"`
	Area       ili.Measure     `json:"area"`
	GrowthRate ili.Measure     `json:"growth_rate"`
	ClusterID  int             `json:"cluster_id"`
}

// Cluster is one group of at least MinSamples members.
type Cluster struct {
	ID             int         `json:"id"`
	Members        []Member    `json:"members"`
	Count          int         `json:"count"`
	Centroid       float64     `json:"centroid_distance"`
	Span           float64     `json:"span"`
	MeanDepth      ili.Measure `json:"mean_depth_pct"`
	TotalArea      float64     `json:"total_area"`
	MeanGrowthRate ili.Measure `json:"mean_growth_rate"`
}

// Result is the output of Run.
type Result struct {
	Clusters []Cluster `json:"clusters"`
	// Members carries every input member with its ClusterID set.
	Members []Member `json:"members"`
	Noise   int      `json:"noise"`
}

// Run clusters members with DBSCAN. Cluster ids are assigned in order of
// centroid distance starting at 0; unclustered members get Noise.
func Run(members []Member, p Params) *Result {
	if p.Epsilon <= 0 {
		p.Epsilon = DefaultEpsilon
	}
	if p.MinSamples < 1 {
		p.MinSamples = DefaultMinSamples
	}
	res := &Result{Members: append([]Member(nil), members...)}
	if len(members) == 0 {
		return res
	}

	points := project(members, p)
	labels, n := DBSCAN(points, p.Epsilon, p.MinSamples)

	groups := make([][]int, n)
	for i, l := range labels {
		if l > 0 {
			groups[l-1] = append(groups[l-1], i)
		}
	}

	type group struct {
		idx []int
		c   Cluster
	}
	gs := make([]group, 0, n)
	for _, g := range groups {
		gs = append(gs, group{idx: g, c: clusterMetrics(res.Members, g)})
	}
	sort.SliceStable(gs, func(i, j int) bool { return gs[i].c.Centroid < gs[j].c.Centroid })

	for i := range res.Members {
		res.Members[i].ClusterID = Noise
	}
	for id, g := range gs {
		for _, idx := range g.idx {
			res.Members[idx].ClusterID = id
		}
		c := g.c
		c.ID = id
		for k := range c.Members {
			c.Members[k].ClusterID = id
		}
		res.Clusters = append(res.Clusters, c)
	}
	for _, m := range res.Members {
		if m.ClusterID == Noise {
			res.Noise++
		}
	}

	diagf("clustered %d members (%s, eps=%.1f, min=%d): %d clusters, %d noise",
		len(members), p.Mode, p.Epsilon, p.MinSamples, len(res.Clusters), res.Noise)
	return res
}

// project maps members into the clustering plane.
func project(members []Member, p Params) []Point {
	points := make([]Point, len(members))
	for i, m := range members {
		points[i].X = m.Distance
		if p.Mode == Mode2D {
			points[i].Y = (m.Clock.Or(unknownClock) / 360.0) * p.Epsilon
		}
	}
	return points
}

func clusterMetrics(members []Member, idx []int) Cluster {
	c := Cluster{Count: len(idx)}
	lo, hi := math.Inf(1), math.Inf(-1)
	sumDist := 0.0
	var sumDepth, sumRate float64
	var nDepth, nRate int
	for _, i := range idx {
		m := members[i]
		c.Members = append(c.Members, m)
		sumDist += m.Distance
		lo = math.Min(lo, m.Distance)
		hi = math.Max(hi, m.Distance)
		if m.Depth.Valid {
			sumDepth += m.Depth.Value
			nDepth++
		}
		if m.GrowthRate.Valid {
			sumRate += m.GrowthRate.Value
			nRate++
		}
		c.TotalArea += m.Area.Or(0)
	}
	c.Centroid = sumDist / float64(len(idx))
	c.Span = hi - lo
	if nDepth > 0 {
		c.MeanDepth = ili.Known(sumDepth / float64(nDepth))
	}
	if nRate > 0 {
		c.MeanGrowthRate = ili.Known(sumRate / float64(nRate))
	}
	return c
}

// MembersFromMatches builds members from the anomalies present in the later
// survey: paired and NEW records. Paired members take their growth rate from
// the growth records, looked up by the later survey's defect.
func MembersFromMatches(records []match.Record, g []growth.Record) []Member {
	type key struct {
		survey string
		id     int
	}
	rates := make(map[key]ili.Measure, len(g))
	for _, r := range g {
		rates[key{r.B.Survey, r.B.ID}] = r.DepthRate
	}

	var members []Member
	for _, r := range records {
		if r.B == nil || !r.CorrectedDistanceB.Valid {
			continue
		}
		b := r.B
		members = append(members, Member{
			Survey:     b.Survey,
			ID:         b.ID,
			Type:       b.Type,
			Distance:   r.CorrectedDistanceB.Value,
			Clock:      b.Clock,
			Depth:      b.Depth,
			Area:       b.Area(),
			GrowthRate: rates[key{b.Survey, b.ID}],
		})
	}
	return members
}
