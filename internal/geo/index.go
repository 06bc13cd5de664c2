package geo

import (
	"math"
	"sort"
	"sync"

	"github.com/mmcloughlin/geohash"
)

// DefaultPrecision gives cells of roughly 4.9 km x 4.9 km.
const DefaultPrecision uint = 5

// maxScanCells bounds how many cells a query may enumerate before it
// falls back to scanning every point.
const maxScanCells = 4096

// Point is one indexed member.
type Point struct {
	ID  string
	Lat float64
	Lng float64
}

// Hit is a query result.
type Hit struct {
	Point
	Distance float64 // meters
}

// Index buckets points by geohash cell so radius queries only touch the
// cells that overlap the search circle.
type Index struct {
	mu        sync.RWMutex
	precision uint
	cellLat   float64
	cellLng   float64
	points    map[string]indexed
	cells     map[string]map[string]struct{}
}

type indexed struct {
	Point
	cell string
}

func NewIndex(precision uint) *Index {
	if precision == 0 || precision > 12 {
		precision = DefaultPrecision
	}
	bits := 5 * precision
	lngBits := (bits + 1) / 2
	latBits := bits / 2
	return &Index{
		precision: precision,
		cellLat:   180 / math.Pow(2, float64(latBits)),
		cellLng:   360 / math.Pow(2, float64(lngBits)),
		points:    make(map[string]indexed),
		cells:     make(map[string]map[string]struct{}),
	}
}

// Upsert inserts or moves a point.
func (g *Index) Upsert(p Point) {
	cell := geohash.EncodeWithPrecision(p.Lat, p.Lng, g.precision)
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.points[p.ID]; ok && old.cell != cell {
		g.dropFromCell(old.cell, p.ID)
	}
	g.points[p.ID] = indexed{Point: p, cell: cell}
	members, ok := g.cells[cell]
	if !ok {
		members = make(map[string]struct{})
		g.cells[cell] = members
	}
	members[p.ID] = struct{}{}
}

func (g *Index) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	old, ok := g.points[id]
	if !ok {
		return
	}
	g.dropFromCell(old.cell, id)
	delete(g.points, id)
}

func (g *Index) dropFromCell(cell, id string) {
	members := g.cells[cell]
	delete(members, id)
	if len(members) == 0 {
		delete(g.cells, cell)
	}
}

func (g *Index) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.points)
}

// Within returns every point within radius meters of (lat, lng), nearest
// first. Equal distances are ordered by ID.
func (g *Index) Within(lat, lng, radius float64) []Hit {
	if radius < 0 {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	var hits []Hit
	consider := func(p indexed) {
		d := Haversine(lat, lng, p.Lat, p.Lng)
		if d <= radius {
			hits = append(hits, Hit{Point: p.Point, Distance: d})
		}
	}

	if cells, ok := g.coveringCells(lat, lng, radius); ok {
		for _, c := range cells {
			for id := range g.cells[c] {
				consider(g.points[id])
			}
		}
	} else {
		for _, p := range g.points {
			consider(p)
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	return hits
}

// coveringCells lists the cells intersecting the circle's bounding box.
// Sampling the box at one cell step per axis cannot skip a cell.
func (g *Index) coveringCells(lat, lng, radius float64) ([]string, bool) {
	minLat, maxLat, minLng, maxLng, ok := boundingBox(lat, lng, radius)
	if !ok {
		return nil, false
	}
	rows := int((maxLat-minLat)/g.cellLat) + 2
	cols := int((maxLng-minLng)/g.cellLng) + 2
	if rows*cols > maxScanCells {
		return nil, false
	}
	seen := make(map[string]struct{}, rows*cols)
	out := make([]string, 0, rows*cols)
	for i := 0; i < rows; i++ {
		y := math.Min(minLat+float64(i)*g.cellLat, maxLat)
		for j := 0; j < cols; j++ {
			x := math.Min(minLng+float64(j)*g.cellLng, maxLng)
			c := geohash.EncodeWithPrecision(y, x, g.precision)
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out, true
}
