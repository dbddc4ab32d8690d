package geoparquet

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/parquet/file"
	"github.com/apache/arrow/go/v16/parquet/metadata"
	"github.com/planetlabs/gbifprep/internal/geo"
)

const (
	Version                 = "1.0.0"
	MetadataKey             = "geo"
	EdgesPlanar             = "planar"
	DefaultGeometryColumn   = "geometry"
	DefaultGeometryEncoding = geo.EncodingWKB

	// CRS assumed when a geometry column has no crs
	DefaultCRS = "OGC:CRS84"
)

type Metadata struct {
	Version       string                     `json:"version"`
	PrimaryColumn string                     `json:"primary_column"`
	Columns       map[string]*GeometryColumn `json:"columns"`
}

func (m *Metadata) Clone() *Metadata {
	clone := &Metadata{}
	*clone = *m
	clone.Columns = make(map[string]*GeometryColumn, len(m.Columns))
	for i, v := range m.Columns {
		clone.Columns[i] = v.clone()
	}
	return clone
}

type ProjId struct {
	Authority string `json:"authority"`
	Code      any    `json:"code"`
}

// Proj is the subset of a PROJJSON object needed to identify a CRS.
type Proj struct {
	Name string  `json:"name,omitempty"`
	Id   *ProjId `json:"id,omitempty"`
}

// Identifier returns the authority and code (e.g. EPSG:4326) or an empty
// string if the CRS has no id.
func (p *Proj) Identifier() string {
	if p.Id == nil {
		return ""
	}
	if code, ok := p.Id.Code.(string); ok {
		return p.Id.Authority + ":" + code
	}
	if code, ok := p.Id.Code.(float64); ok {
		return fmt.Sprintf("%s:%g", p.Id.Authority, code)
	}
	if code, ok := p.Id.Code.(int); ok {
		return fmt.Sprintf("%s:%d", p.Id.Authority, code)
	}
	return ""
}

func (p *Proj) String() string {
	if p.Name != "" {
		return p.Name
	}
	if id := p.Identifier(); id != "" {
		return id
	}
	return "Unknown"
}

// WGS84 is the geographic CRS of every geometry this package writes.
var WGS84 = &Proj{
	Name: "WGS 84",
	Id:   &ProjId{Authority: "EPSG", Code: 4326},
}

type GeometryColumn struct {
	Encoding      string    `json:"encoding"`
	GeometryTypes []string  `json:"geometry_types"`
	CRS           *Proj     `json:"crs,omitempty"`
	Edges         string    `json:"edges,omitempty"`
	Bounds        []float64 `json:"bbox,omitempty"`
}

func (g *GeometryColumn) clone() *GeometryColumn {
	clone := &GeometryColumn{}
	*clone = *g
	clone.Bounds = make([]float64, len(g.Bounds))
	copy(clone.Bounds, g.Bounds)
	clone.GeometryTypes = make([]string, len(g.GeometryTypes))
	copy(clone.GeometryTypes, g.GeometryTypes)
	return clone
}

// CRSName returns the authority and code of the column CRS.
func (g *GeometryColumn) CRSName() string {
	if g.CRS == nil {
		return DefaultCRS
	}
	if id := g.CRS.Identifier(); id != "" {
		return id
	}
	return g.CRS.String()
}

// IsGeographic reports whether coordinates are longitude and latitude.
func (g *GeometryColumn) IsGeographic() bool {
	switch g.CRSName() {
	case DefaultCRS, geo.WorkingCRS, "EPSG:4269":
		return true
	}
	return false
}

// NewMetadata describes a single WKB geometry column in EPSG:4326.
func NewMetadata(column string, geometryTypes ...string) *Metadata {
	if geometryTypes == nil {
		geometryTypes = []string{}
	}
	return &Metadata{
		Version:       Version,
		PrimaryColumn: column,
		Columns: map[string]*GeometryColumn{
			column: {
				Encoding:      DefaultGeometryEncoding,
				GeometryTypes: geometryTypes,
				CRS:           WGS84,
				Edges:         EdgesPlanar,
			},
		},
	}
}

var ErrNoMetadata = fmt.Errorf("missing %s metadata key", MetadataKey)
var ErrDuplicateMetadata = fmt.Errorf("found more than one %s metadata key", MetadataKey)

func GetMetadata(keyValueMetadata metadata.KeyValueMetadata) (*Metadata, error) {
	value, err := GetMetadataValue(keyValueMetadata)
	if err != nil {
		return nil, err
	}
	return parseMetadata(value)
}

func GetMetadataFromFileReader(fileReader *file.Reader) (*Metadata, error) {
	return GetMetadata(fileReader.MetaData().KeyValueMetadata())
}

func GetMetadataValue(keyValueMetadata metadata.KeyValueMetadata) (string, error) {
	var value *string
	for _, kv := range keyValueMetadata {
		if kv.Key == MetadataKey {
			if value != nil {
				return "", ErrDuplicateMetadata
			}
			value = kv.Value
		}
	}
	if value == nil {
		return "", ErrNoMetadata
	}
	return *value, nil
}

// GetMetadataFromSchema reads geo metadata carried by an arrow schema.
func GetMetadataFromSchema(schema *arrow.Schema) (*Metadata, error) {
	md := schema.Metadata()
	index := md.FindKey(MetadataKey)
	if index < 0 {
		return nil, ErrNoMetadata
	}
	return parseMetadata(md.Values()[index])
}

func parseMetadata(value string) (*Metadata, error) {
	geoFileMetadata := &Metadata{}
	jsonErr := json.Unmarshal([]byte(value), geoFileMetadata)
	if jsonErr != nil {
		return nil, fmt.Errorf("unable to parse %s metadata: %w", MetadataKey, jsonErr)
	}
	if geoFileMetadata.PrimaryColumn == "" {
		return nil, errors.New("geo metadata is missing primary_column")
	}
	return geoFileMetadata, nil
}

// SchemaWithMetadata returns a copy of the schema that carries the geo
// metadata, replacing any existing value.
func SchemaWithMetadata(schema *arrow.Schema, geoMetadata *Metadata) (*arrow.Schema, error) {
	data, err := json.Marshal(geoMetadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s metadata: %w", MetadataKey, err)
	}

	existing := schema.Metadata()
	keys := []string{}
	values := []string{}
	for i, key := range existing.Keys() {
		if key == MetadataKey {
			continue
		}
		keys = append(keys, key)
		values = append(values, existing.Values()[i])
	}
	keys = append(keys, MetadataKey)
	values = append(values, string(data))

	md := arrow.NewMetadata(keys, values)
	return arrow.NewSchema(schema.Fields(), &md), nil
}
