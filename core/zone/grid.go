package zone

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/uber/h3-go/v4"

	"github.com/kilianp07/smartzone/core/geo"
)

// ErrUnknownZone is returned for ids that are not part of the grid.
var ErrUnknownZone = errors.New("zone: unknown zone")

// Config describes the region covered by the grid.
type Config struct {
	Center     geo.Point `json:"center"`
	RadiusKm   float64   `json:"radius_km"`
	Resolution int       `json:"resolution"`
}

// SetDefaults applies the Singapore defaults.
func (c *Config) SetDefaults() {
	if c.Center == (geo.Point{}) {
		c.Center = geo.Point{Lon: 103.8198, Lat: 1.3521}
	}
	if c.RadiusKm == 0 {
		c.RadiusKm = 5
	}
	if c.Resolution == 0 {
		c.Resolution = 8
	}
}

// Validate checks the grid parameters.
func (c Config) Validate() error {
	if c.Resolution < 0 || c.Resolution > 15 {
		return fmt.Errorf("resolution must be within [0,15], got %d", c.Resolution)
	}
	if c.RadiusKm <= 0 {
		return fmt.Errorf("radius_km must be positive")
	}
	if c.Center.Lat < -90 || c.Center.Lat > 90 || c.Center.Lon < -180 || c.Center.Lon > 180 {
		return fmt.Errorf("center out of range: %+v", c.Center)
	}
	return nil
}

type cell struct {
	index    h3.Cell
	center   geo.Point
	boundary geo.Polygon
}

// Grid indexes the hexagonal zones of one simulation run. It is immutable
// after construction and safe for concurrent use.
type Grid struct {
	resolution int
	ids        []string
	cells      map[string]cell
}

// NewGrid covers a disk of cfg.RadiusKm around cfg.Center with H3 cells.
func NewGrid(cfg Config) (*Grid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	origin := h3.LatLngToCell(h3.NewLatLng(cfg.Center.Lat, cfg.Center.Lon), cfg.Resolution)
	hexRadius := h3.HexagonEdgeLengthAvgKm(cfg.Resolution) * math.Sqrt(3) / 2
	rings := int(math.Ceil(cfg.RadiusKm / hexRadius))

	var cells []h3.Cell
	for _, c := range origin.GridDisk(rings) {
		if geo.Haversine(cfg.Center, toPoint(c.LatLng())) <= cfg.RadiusKm {
			cells = append(cells, c)
		}
	}
	return newGrid(cfg.Resolution, cells), nil
}

// NewGridFromIDs builds a grid from explicit cell ids. Every id must be a
// valid H3 cell at the given resolution.
func NewGridFromIDs(resolution int, ids []string) (*Grid, error) {
	if len(ids) == 0 {
		return nil, errors.New("zone: no zone ids")
	}
	cells := make([]h3.Cell, 0, len(ids))
	for _, id := range ids {
		c := h3.Cell(h3.IndexFromString(id))
		if !c.IsValid() || c.Resolution() != resolution {
			return nil, fmt.Errorf("%w: %q", ErrUnknownZone, id)
		}
		cells = append(cells, c)
	}
	return newGrid(resolution, cells), nil
}

func newGrid(resolution int, cells []h3.Cell) *Grid {
	g := &Grid{resolution: resolution, cells: make(map[string]cell, len(cells))}
	for _, c := range cells {
		id := c.String()
		if _, dup := g.cells[id]; dup {
			continue
		}
		b := c.Boundary()
		poly := make(geo.Polygon, len(b))
		for i, ll := range b {
			poly[i] = toPoint(ll)
		}
		g.cells[id] = cell{index: c, center: toPoint(c.LatLng()), boundary: poly}
		g.ids = append(g.ids, id)
	}
	sort.Strings(g.ids)
	return g
}

func toPoint(ll h3.LatLng) geo.Point { return geo.Point{Lon: ll.Lng, Lat: ll.Lat} }

// Resolution returns the H3 resolution of the grid.
func (g *Grid) Resolution() int { return g.resolution }

// Len returns the number of zones.
func (g *Grid) Len() int { return len(g.ids) }

// IDs returns the sorted zone ids. The slice is a copy.
func (g *Grid) IDs() []string {
	out := make([]string, len(g.ids))
	copy(out, g.ids)
	return out
}

// Contains reports whether id belongs to the grid.
func (g *Grid) Contains(id string) bool {
	_, ok := g.cells[id]
	return ok
}

// CenterOf returns the center of a zone.
func (g *Grid) CenterOf(id string) (geo.Point, error) {
	c, ok := g.cells[id]
	if !ok {
		return geo.Point{}, fmt.Errorf("%w: %q", ErrUnknownZone, id)
	}
	return c.center, nil
}

// BoundaryOf returns a copy of the zone boundary ring.
func (g *Grid) BoundaryOf(id string) (geo.Polygon, error) {
	c, ok := g.cells[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownZone, id)
	}
	out := make(geo.Polygon, len(c.boundary))
	copy(out, c.boundary)
	return out, nil
}

// CellFor returns the id of the cell containing p at the grid resolution.
// The cell may lie outside the grid.
func (g *Grid) CellFor(p geo.Point) string {
	return h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lon), g.resolution).String()
}

// Neighbors returns the ids within k rings of id, origin included. Cells
// outside the grid are kept.
func (g *Grid) Neighbors(id string, k int) ([]string, error) {
	c, ok := g.cells[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownZone, id)
	}
	disk := c.index.GridDisk(k)
	out := make([]string, len(disk))
	for i, n := range disk {
		out[i] = n.String()
	}
	sort.Strings(out)
	return out, nil
}

// RandomPointIn samples a uniform point inside the zone boundary.
func (g *Grid) RandomPointIn(id string, rng *rand.Rand) (geo.Point, error) {
	c, ok := g.cells[id]
	if !ok {
		return geo.Point{}, fmt.Errorf("%w: %q", ErrUnknownZone, id)
	}
	p, err := geo.RandomPointIn(rng, c.boundary, geo.DefaultSampleAttempts)
	if err != nil {
		return geo.Point{}, fmt.Errorf("zone %s: %w", id, err)
	}
	return p, nil
}
