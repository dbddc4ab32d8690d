package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/wroge/wgs84"
)

// WorkingCRS is the reference system every geometry is joined in.
const WorkingCRS = "EPSG:4326"

var ErrUnsupportedProjection = errors.New("unsupported projection")

// Projection converts planar coordinates to geographic longitude and latitude
// in degrees.
type Projection interface {
	Name() string
	Inverse(point orb.Point) (orb.Point, error)
}

// ToGeographic reprojects the geometry in place.  The first point that fails
// to reproject aborts the transformation.
func ToGeographic(g orb.Geometry, proj Projection) (orb.Geometry, error) {
	if _, ok := proj.(*Geographic); ok {
		return g, nil
	}
	var projErr error
	projected := project.Geometry(g, func(p orb.Point) orb.Point {
		if projErr != nil {
			return p
		}
		out, err := proj.Inverse(p)
		if err != nil {
			projErr = err
			return p
		}
		return out
	})
	if projErr != nil {
		return nil, fmt.Errorf("trouble reprojecting from %s: %w", proj.Name(), projErr)
	}
	return projected, nil
}

// Geographic is a longitude/latitude reference system.  Datum shifts between
// the common North American and world datums are below the precision of the
// boundary data and are ignored.
type Geographic struct {
	name string
}

func NewGeographic(name string) *Geographic {
	return &Geographic{name: name}
}

func (g *Geographic) Name() string {
	return g.name
}

func (g *Geographic) Inverse(point orb.Point) (orb.Point, error) {
	return point, nil
}

// AlbersEqualArea is the ellipsoidal Albers Conic Equal Area projection.
type AlbersEqualArea struct {
	name    string
	unit    float64
	forward wgs84.Func
	inverse wgs84.Func
}

type AlbersParams struct {
	Name               string
	SemiMajorAxis      float64
	InverseFlattening  float64
	CentralMeridian    float64
	LatitudeOfOrigin   float64
	StandardParallel1  float64
	StandardParallel2  float64
	FalseEasting       float64
	FalseNorthing      float64
	LinearUnitToMeters float64
}

type spheroid struct {
	a  float64
	fi float64
}

func (s spheroid) A() float64 {
	return s.a
}

func (s spheroid) Fi() float64 {
	return s.fi
}

func NewAlbersEqualArea(params AlbersParams) (*AlbersEqualArea, error) {
	if params.SemiMajorAxis <= 0 {
		return nil, fmt.Errorf("invalid semi-major axis: %g", params.SemiMajorAxis)
	}
	if params.InverseFlattening <= 0 {
		return nil, fmt.Errorf("invalid inverse flattening: %g", params.InverseFlattening)
	}
	if math.Abs(params.StandardParallel1+params.StandardParallel2) < 1e-10 {
		return nil, errors.New("standard parallels must not be opposite")
	}
	unit := params.LinearUnitToMeters
	if unit == 0 {
		unit = 1
	}

	// geographic coordinates stay on the projection's own datum
	datum := wgs84.Datum{Spheroid: spheroid{a: params.SemiMajorAxis, fi: params.InverseFlattening}}
	projected := datum.AlbersEqualAreaConic(
		params.CentralMeridian,
		params.LatitudeOfOrigin,
		params.StandardParallel1,
		params.StandardParallel2,
		params.FalseEasting*unit,
		params.FalseNorthing*unit,
	)

	return &AlbersEqualArea{
		name:    params.Name,
		unit:    unit,
		forward: wgs84.Transform(datum.LonLat(), projected),
		inverse: wgs84.Transform(projected, datum.LonLat()),
	}, nil
}

func (p *AlbersEqualArea) Name() string {
	return p.name
}

// Forward projects longitude and latitude in degrees.
func (p *AlbersEqualArea) Forward(point orb.Point) orb.Point {
	x, y, _ := p.forward(point.X(), point.Y(), 0)
	return orb.Point{x / p.unit, y / p.unit}
}

func (p *AlbersEqualArea) Inverse(point orb.Point) (orb.Point, error) {
	lon, lat, _ := p.inverse(point.X()*p.unit, point.Y()*p.unit, 0)
	if math.IsNaN(lon) || math.IsNaN(lat) || math.Abs(lat) > 90 {
		return point, fmt.Errorf("point %v is outside the projection domain", point)
	}
	return orb.Point{lon, lat}, nil
}

// ParseProjection reads a WKT1 (OGC or ESRI flavored) coordinate reference
// system definition, as found in shapefile .prj sidecars.
func ParseProjection(definition string) (Projection, error) {
	root, err := parseWKT(definition)
	if err != nil {
		return nil, err
	}

	switch strings.ToUpper(root.keyword) {
	case "GEOGCS", "GEOGCRS":
		return NewGeographic(root.name()), nil
	case "PROJCS", "PROJCRS":
	default:
		return nil, fmt.Errorf("%w: unexpected %s definition", ErrUnsupportedProjection, root.keyword)
	}

	projection := root.child("PROJECTION")
	if projection == nil {
		return nil, fmt.Errorf("%w: missing PROJECTION in %s", ErrUnsupportedProjection, root.name())
	}
	method := strings.ToLower(projection.name())
	if method != "albers" && method != "albers_conic_equal_area" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProjection, projection.name())
	}

	spheroid := root.find("SPHEROID", "ELLIPSOID")
	if spheroid == nil {
		return nil, fmt.Errorf("missing SPHEROID in %s", root.name())
	}
	a, aErr := spheroid.number(1)
	if aErr != nil {
		return nil, fmt.Errorf("trouble reading semi-major axis: %w", aErr)
	}
	invf, fErr := spheroid.number(2)
	if fErr != nil {
		return nil, fmt.Errorf("trouble reading inverse flattening: %w", fErr)
	}

	params := AlbersParams{
		Name:               root.name(),
		SemiMajorAxis:      a,
		InverseFlattening:  invf,
		LinearUnitToMeters: 1,
	}
	for _, param := range root.children("PARAMETER") {
		value, err := param.number(1)
		if err != nil {
			return nil, fmt.Errorf("trouble reading parameter %q: %w", param.name(), err)
		}
		switch strings.ToLower(param.name()) {
		case "false_easting":
			params.FalseEasting = value
		case "false_northing":
			params.FalseNorthing = value
		case "central_meridian", "longitude_of_center":
			params.CentralMeridian = value
		case "latitude_of_origin", "latitude_of_center":
			params.LatitudeOfOrigin = value
		case "standard_parallel_1":
			params.StandardParallel1 = value
		case "standard_parallel_2":
			params.StandardParallel2 = value
		}
	}
	if unit := root.child("UNIT"); unit != nil {
		factor, err := unit.number(1)
		if err != nil {
			return nil, fmt.Errorf("trouble reading linear unit: %w", err)
		}
		params.LinearUnitToMeters = factor
	}

	return NewAlbersEqualArea(params)
}

type wktNode struct {
	keyword string
	values  []any
}

func (n *wktNode) name() string {
	if len(n.values) == 0 {
		return ""
	}
	str, _ := n.values[0].(string)
	return str
}

func (n *wktNode) number(index int) (float64, error) {
	if index >= len(n.values) {
		return 0, fmt.Errorf("%s has no value at position %d", n.keyword, index)
	}
	value, ok := n.values[index].(float64)
	if !ok {
		return 0, fmt.Errorf("%s value at position %d is not a number", n.keyword, index)
	}
	return value, nil
}

func (n *wktNode) children(keyword string) []*wktNode {
	nodes := []*wktNode{}
	for _, value := range n.values {
		if child, ok := value.(*wktNode); ok && strings.EqualFold(child.keyword, keyword) {
			nodes = append(nodes, child)
		}
	}
	return nodes
}

func (n *wktNode) child(keyword string) *wktNode {
	nodes := n.children(keyword)
	if len(nodes) == 0 {
		return nil
	}
	return nodes[len(nodes)-1]
}

// find does a depth-first search for the first node with one of the keywords.
func (n *wktNode) find(keywords ...string) *wktNode {
	for _, value := range n.values {
		child, ok := value.(*wktNode)
		if !ok {
			continue
		}
		for _, keyword := range keywords {
			if strings.EqualFold(child.keyword, keyword) {
				return child
			}
		}
		if found := child.find(keywords...); found != nil {
			return found
		}
	}
	return nil
}

type wktParser struct {
	input []rune
	pos   int
}

func parseWKT(definition string) (*wktNode, error) {
	p := &wktParser{input: []rune(strings.TrimSpace(definition))}
	node, err := p.node()
	if err != nil {
		return nil, fmt.Errorf("trouble parsing WKT: %w", err)
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("trouble parsing WKT: unexpected content at offset %d", p.pos)
	}
	return node, nil
}

func (p *wktParser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(p.input[p.pos]) {
		p.pos += 1
	}
}

func (p *wktParser) node() (*wktNode, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) && (unicode.IsLetter(p.input[p.pos]) || unicode.IsDigit(p.input[p.pos]) || p.input[p.pos] == '_') {
		p.pos += 1
	}
	if start == p.pos {
		return nil, fmt.Errorf("expected keyword at offset %d", start)
	}
	node := &wktNode{keyword: string(p.input[start:p.pos])}

	p.skipSpace()
	if p.pos >= len(p.input) || (p.input[p.pos] != '[' && p.input[p.pos] != '(') {
		return node, nil
	}
	closing := ']'
	if p.input[p.pos] == '(' {
		closing = ')'
	}
	p.pos += 1

	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return nil, fmt.Errorf("unterminated %s", node.keyword)
		}
		r := p.input[p.pos]
		switch {
		case r == closing:
			p.pos += 1
			return node, nil
		case r == ',':
			p.pos += 1
		case r == '"':
			str, err := p.quoted()
			if err != nil {
				return nil, err
			}
			node.values = append(node.values, str)
		case r == '-' || r == '+' || r == '.' || unicode.IsDigit(r):
			num, err := p.number()
			if err != nil {
				return nil, err
			}
			node.values = append(node.values, num)
		default:
			child, err := p.node()
			if err != nil {
				return nil, err
			}
			node.values = append(node.values, child)
		}
	}
}

func (p *wktParser) quoted() (string, error) {
	p.pos += 1
	start := p.pos
	for p.pos < len(p.input) && p.input[p.pos] != '"' {
		p.pos += 1
	}
	if p.pos >= len(p.input) {
		return "", fmt.Errorf("unterminated string at offset %d", start)
	}
	str := string(p.input[start:p.pos])
	p.pos += 1
	return str, nil
}

func (p *wktParser) number() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) && strings.ContainsRune("+-.eE0123456789", p.input[p.pos]) {
		p.pos += 1
	}
	value, err := strconv.ParseFloat(string(p.input[start:p.pos]), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number at offset %d: %w", start, err)
	}
	return value, nil
}
