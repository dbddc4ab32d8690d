package geo

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"
	orbjson "github.com/paulmach/orb/geojson"
)

const (
	EncodingWKB = "WKB"
	EncodingWKT = "WKT"
)

type Feature struct {
	Id         any            `json:"id,omitempty"`
	Type       string         `json:"type"`
	Geometry   orb.Geometry   `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

var (
	_ json.Marshaler   = (*Feature)(nil)
	_ json.Unmarshaler = (*Feature)(nil)
)

func (f *Feature) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"type":       "Feature",
		"geometry":   orbjson.NewGeometry(f.Geometry),
		"properties": f.Properties,
	}
	if f.Id != nil {
		m["id"] = f.Id
	}
	return json.Marshal(m)
}

type jsonFeature struct {
	Id         any             `json:"id,omitempty"`
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

func isRawNull(raw json.RawMessage) bool {
	return string(raw) == "null" || len(raw) == 0
}

func (f *Feature) UnmarshalJSON(data []byte) error {
	jf := &jsonFeature{}
	if err := json.Unmarshal(data, jf); err != nil {
		return err
	}

	f.Type = jf.Type
	f.Id = jf.Id
	f.Properties = jf.Properties

	if isRawNull(jf.Geometry) {
		return nil
	}
	geometry := &orbjson.Geometry{}
	if err := json.Unmarshal(jf.Geometry, geometry); err != nil {
		return err
	}

	f.Geometry = geometry.Geometry()
	return nil
}

// DecodeGeometry decodes a WKB or WKT value.  An empty encoding is inferred
// from the value type.  A nil value decodes to a nil geometry.
func DecodeGeometry(value any, encoding string) (orb.Geometry, error) {
	if value == nil {
		return nil, nil
	}
	if encoding == "" {
		if _, ok := value.([]byte); ok {
			encoding = EncodingWKB
		} else if _, ok := value.(string); ok {
			encoding = EncodingWKT
		}
	}
	switch encoding {
	case EncodingWKB:
		data, ok := value.([]byte)
		if !ok {
			return nil, fmt.Errorf("expected bytes for wkb geometry, got %T", value)
		}
		if len(data) == 0 {
			return nil, nil
		}
		return wkb.Unmarshal(data)
	case EncodingWKT:
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string for wkt geometry, got %T", value)
		}
		return wkt.Unmarshal(str)
	}
	return nil, fmt.Errorf("unsupported encoding: %s", encoding)
}

// GeometryStats accumulates the extent and types of a stream of geometries.
// When created as concurrent, it may be shared between goroutines.
type GeometryStats struct {
	mutex *sync.RWMutex
	count int64
	minX  float64
	maxX  float64
	minY  float64
	maxY  float64
	types map[string]bool
}

func NewGeometryStats(concurrent bool) *GeometryStats {
	var mutex *sync.RWMutex
	if concurrent {
		mutex = &sync.RWMutex{}
	}
	return &GeometryStats{
		mutex: mutex,
		types: map[string]bool{},
		minX:  math.MaxFloat64,
		maxX:  -math.MaxFloat64,
		minY:  math.MaxFloat64,
		maxY:  -math.MaxFloat64,
	}
}

func (i *GeometryStats) writeLock() {
	if i.mutex == nil {
		return
	}
	i.mutex.Lock()
}

func (i *GeometryStats) writeUnlock() {
	if i.mutex == nil {
		return
	}
	i.mutex.Unlock()
}

func (i *GeometryStats) readLock() {
	if i.mutex == nil {
		return
	}
	i.mutex.RLock()
}

func (i *GeometryStats) readUnlock() {
	if i.mutex == nil {
		return
	}
	i.mutex.RUnlock()
}

func (i *GeometryStats) Add(g orb.Geometry) {
	if g == nil {
		return
	}
	bounds := g.Bound()
	i.writeLock()
	i.count += 1
	i.types[g.GeoJSONType()] = true
	i.minX = math.Min(i.minX, bounds.Min.X())
	i.maxX = math.Max(i.maxX, bounds.Max.X())
	i.minY = math.Min(i.minY, bounds.Min.Y())
	i.maxY = math.Max(i.maxY, bounds.Max.Y())
	i.writeUnlock()
}

func (i *GeometryStats) Count() int64 {
	i.readLock()
	defer i.readUnlock()
	return i.count
}

// Bounds returns nil until at least one geometry has been added.
func (i *GeometryStats) Bounds() *Bbox {
	i.readLock()
	defer i.readUnlock()
	if i.count == 0 {
		return nil
	}
	return &Bbox{Xmin: i.minX, Ymin: i.minY, Xmax: i.maxX, Ymax: i.maxY}
}

func (i *GeometryStats) Types() []string {
	i.readLock()
	types := []string{}
	for typ, ok := range i.types {
		if ok {
			types = append(types, typ)
		}
	}
	i.readUnlock()
	return types
}

type Bbox struct {
	Xmin float64
	Ymin float64
	Xmax float64
	Ymax float64
}

func NewBboxFromBound(bound orb.Bound) *Bbox {
	return &Bbox{
		Xmin: bound.Min.X(),
		Ymin: bound.Min.Y(),
		Xmax: bound.Max.X(),
		Ymax: bound.Max.Y(),
	}
}

// Checks whether the bbox overlaps with another axis-aligned bbox.
func (box1 *Bbox) Intersects(box2 *Bbox) bool {
	// check latitude overlap
	if box1.Ymax < box2.Ymin || box2.Ymax < box1.Ymin {
		return false
	}

	xmin1 := box1.Xmin
	xmin2 := box2.Xmin

	// a box crossing the antimeridian in the -180/180 range has xmin > xmax,
	// represent e.g. xmin 170 as -190
	if xmin1 > 0 && box1.Xmax < 0 {
		xmin1 = -180 - (180 - xmin1)
	}
	if xmin2 > 0 && box2.Xmax < 0 {
		xmin2 = -180 - (180 - xmin2)
	}

	// check longitude overlap
	if box1.Xmax < xmin2 || box2.Xmax < xmin1 {
		return false
	}

	return true
}

// Contains reports whether the point lies inside or on the edge of the bbox.
func (box *Bbox) Contains(point orb.Point) bool {
	return box.Intersects(&Bbox{Xmin: point.X(), Ymin: point.Y(), Xmax: point.X(), Ymax: point.Y()})
}

func (box *Bbox) String() string {
	return fmt.Sprintf("[%g, %g, %g, %g]", box.Xmin, box.Ymin, box.Xmax, box.Ymax)
}
