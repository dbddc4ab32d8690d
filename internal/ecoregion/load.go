package ecoregion

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/planetlabs/gbifprep/internal/geo"
	"github.com/planetlabs/gbifprep/internal/geojson"
	"github.com/planetlabs/gbifprep/internal/geoparquet"
	"github.com/planetlabs/gbifprep/internal/storage"
)

// DefaultPath is the EPA Level III ecoregion archive looked up in the working
// directory.
const DefaultPath = "us_eco_l3.zip"

var (
	ErrUnsupportedFormat = errors.New("unsupported reference data format")
	ErrMissingAttributes = errors.New("missing attribute table")
)

type LoadOptions struct {
	Logger *slog.Logger
}

// Load reads every region of a zipped shapefile, shapefile, GeoJSON, or
// GeoParquet file and reprojects it to EPSG:4326.
func Load(ctx context.Context, name string, options *LoadOptions) (*Set, error) {
	if options == nil {
		options = &LoadOptions{}
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var set *Set
	var err error
	switch strings.ToLower(path.Ext(name)) {
	case ".zip":
		set, err = loadShapefileZip(name, logger)
	case ".shp":
		set, err = loadShapefile(name, logger)
	case ".geojson", ".json":
		set, err = loadGeoJSON(ctx, name)
	case ".parquet", ".geoparquet":
		set, err = loadGeoParquet(ctx, name)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	if err != nil {
		return nil, fmt.Errorf("trouble loading %s: %w", name, err)
	}

	extent := set.Extent()
	logger.Info("loaded reference regions",
		slog.String("path", name),
		slog.Int("regions", set.Len()),
		slog.String("extent", geo.NewBboxFromBound(extent).String()),
	)
	return set, nil
}

type shapeReader interface {
	Next() bool
	Shape() (int, shp.Shape)
	Fields() []shp.Field
	Attribute(n int) string
	Err() error
	Close() error
}

func loadShapefileZip(name string, logger *slog.Logger) (*Set, error) {
	if strings.Contains(name, "://") {
		return nil, fmt.Errorf("zipped shapefiles must be local files")
	}
	prj, err := readZipSidecars(name)
	if err != nil {
		return nil, err
	}
	reader, err := shp.OpenZip(name)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return readShapes(reader, prj, logger)
}

// readZipSidecars checks that the archive holds a single shapefile with its
// attribute table and returns the contents of the matching .prj member, or
// an empty string when there is none.
func readZipSidecars(name string) (string, error) {
	archive, err := zip.OpenReader(name)
	if err != nil {
		return "", err
	}
	defer archive.Close()

	var shpEntry string
	for _, entry := range archive.File {
		if !strings.HasSuffix(entry.Name, ".shp") || storage.IsHidden(entry.Name) {
			continue
		}
		if shpEntry != "" {
			return "", fmt.Errorf("%s has more than one shapefile", name)
		}
		shpEntry = entry.Name
	}
	if shpEntry == "" {
		return "", fmt.Errorf("%s has no shapefile", name)
	}
	base := strings.TrimSuffix(shpEntry, ".shp")

	var dbfEntry, prjEntry *zip.File
	for _, entry := range archive.File {
		switch {
		case entry.Name == base+".dbf":
			dbfEntry = entry
		case strings.EqualFold(entry.Name, base+".prj"):
			prjEntry = entry
		}
	}
	if dbfEntry == nil {
		return "", fmt.Errorf("%w: %s has no %s.dbf attribute table", ErrMissingAttributes, name, base)
	}
	if prjEntry == nil {
		return "", nil
	}

	file, err := prjEntry.Open()
	if err != nil {
		return "", err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("trouble reading %s: %w", prjEntry.Name, err)
	}
	return string(data), nil
}

func loadShapefile(name string, logger *slog.Logger) (*Set, error) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if _, err := os.Stat(base + ".dbf"); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s.dbf not found", ErrMissingAttributes, base)
		}
		return nil, err
	}
	prj, err := os.ReadFile(base + ".prj")
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	reader, err := shp.Open(name)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return readShapes(reader, string(prj), logger)
}

func readShapes(reader shapeReader, prj string, logger *slog.Logger) (*Set, error) {
	var projection geo.Projection = geo.NewGeographic(geo.WorkingCRS)
	if prj == "" {
		logger.Warn("shapefile has no projection, assuming longitude and latitude")
	} else {
		p, err := geo.ParseProjection(prj)
		if err != nil {
			return nil, err
		}
		projection = p
	}

	fields := []string{}
	for _, field := range reader.Fields() {
		fields = append(fields, field.String())
	}

	regions := []*Region{}
	for reader.Next() {
		index, shape := reader.Shape()
		geometry, err := shapeGeometry(shape)
		if err != nil {
			return nil, fmt.Errorf("shape %d: %w", index, err)
		}
		if geometry == nil {
			continue
		}
		geometry, err = geo.ToGeographic(geometry, projection)
		if err != nil {
			return nil, err
		}

		attributes := map[string]string{}
		for i, field := range fields {
			attributes[field] = strings.Trim(reader.Attribute(i), " \x00")
		}
		regions = append(regions, &Region{
			Index:      index,
			Geometry:   geometry,
			Bound:      geometry.Bound(),
			Attributes: attributes,
		})
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	return NewSet(fields, regions), nil
}

// shapeGeometry assembles polygon parts.  Clockwise rings start a new polygon
// and counterclockwise rings are holes of the polygon that contains them.
func shapeGeometry(shape shp.Shape) (orb.Geometry, error) {
	var polyLine shp.PolyLine
	switch s := shape.(type) {
	case *shp.Null:
		return nil, nil
	case *shp.Polygon:
		polyLine = shp.PolyLine(*s)
	case *shp.PolygonZ:
		polyLine = shp.PolyLine{NumParts: s.NumParts, NumPoints: s.NumPoints, Parts: s.Parts, Points: s.Points}
	case *shp.PolygonM:
		polyLine = shp.PolyLine{NumParts: s.NumParts, NumPoints: s.NumPoints, Parts: s.Parts, Points: s.Points}
	default:
		return nil, fmt.Errorf("expected a polygon shape, got %T", shape)
	}

	polygons := []orb.Polygon{}
	holes := []orb.Ring{}
	for i, start := range polyLine.Parts {
		end := polyLine.NumPoints
		if i+1 < len(polyLine.Parts) {
			end = polyLine.Parts[i+1]
		}
		ring := make(orb.Ring, 0, end-start)
		for _, point := range polyLine.Points[start:end] {
			ring = append(ring, orb.Point{point.X, point.Y})
		}
		if len(ring) < 4 {
			continue
		}
		if ring.Orientation() == orb.CW {
			polygons = append(polygons, orb.Polygon{ring})
		} else {
			holes = append(holes, ring)
		}
	}

	for _, hole := range holes {
		owner := -1
		for i, polygon := range polygons {
			if planar.RingContains(polygon[0], hole[0]) {
				owner = i
				break
			}
		}
		if owner < 0 {
			// an unowned counterclockwise ring is an outer ring written with
			// the wrong winding
			polygons = append(polygons, orb.Polygon{hole})
			continue
		}
		polygons[owner] = append(polygons[owner], hole)
	}

	switch len(polygons) {
	case 0:
		return nil, nil
	case 1:
		return polygons[0], nil
	}
	return orb.MultiPolygon(polygons), nil
}

func loadGeoJSON(ctx context.Context, name string) (*Set, error) {
	input, err := storage.NewReader(ctx, name)
	if err != nil {
		return nil, err
	}
	defer input.Close()

	reader := geojson.NewFeatureReader(input)
	regions := []*Region{}
	for index := 0; ; index++ {
		feature, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if feature.Geometry == nil {
			continue
		}
		if err := checkPolygonal(feature.Geometry); err != nil {
			return nil, err
		}

		attributes := map[string]string{}
		for key, value := range feature.Properties {
			if value == nil {
				continue
			}
			attributes[key] = fmt.Sprint(value)
		}
		regions = append(regions, &Region{
			Index:      index,
			Geometry:   feature.Geometry,
			Bound:      feature.Geometry.Bound(),
			Attributes: attributes,
		})
	}

	if crs := reader.CRS(); crs != "" {
		column := &geoparquet.GeometryColumn{CRS: &geoparquet.Proj{Id: crsId(crs)}}
		if !column.IsGeographic() {
			return nil, fmt.Errorf("%w: %s", geo.ErrUnsupportedProjection, crs)
		}
	}
	return NewSet(reader.PropertyNames(), regions), nil
}

func crsId(identifier string) *geoparquet.ProjId {
	authority, code, _ := strings.Cut(identifier, ":")
	return &geoparquet.ProjId{Authority: authority, Code: code}
}

func checkPolygonal(g orb.Geometry) error {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return nil
	}
	return fmt.Errorf("expected polygon geometries, got %s", g.GeoJSONType())
}

func loadGeoParquet(ctx context.Context, name string) (*Set, error) {
	input, err := storage.NewReader(ctx, name)
	if err != nil {
		return nil, err
	}
	defer input.Close()

	reader, err := geoparquet.NewRecordReaderFromConfig(&geoparquet.ReaderConfig{Reader: input, Context: ctx})
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	metadata := reader.Metadata()
	column := metadata.Columns[metadata.PrimaryColumn]
	if !column.IsGeographic() {
		return nil, fmt.Errorf("%w: %s", geo.ErrUnsupportedProjection, column.CRSName())
	}

	fields := []string{}
	for _, field := range reader.ArrowSchema().Fields() {
		if field.Name != metadata.PrimaryColumn {
			fields = append(fields, field.Name)
		}
	}

	regions := []*Region{}
	offset := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		batch, err := recordRegions(record, metadata.PrimaryColumn, column.Encoding, offset)
		if err != nil {
			return nil, err
		}
		regions = append(regions, batch...)
		offset += int(record.NumRows())
	}
	return NewSet(fields, regions), nil
}

func recordRegions(record arrow.Record, geometryColumn string, encoding string, offset int) ([]*Region, error) {
	schema := record.Schema()
	regions := []*Region{}
	for row := 0; row < int(record.NumRows()); row++ {
		var geometry orb.Geometry
		attributes := map[string]string{}
		for col, field := range schema.Fields() {
			values := record.Column(col)
			if values.IsNull(row) {
				continue
			}
			if field.Name != geometryColumn {
				attributes[field.Name] = values.ValueStr(row)
				continue
			}

			var value any
			switch v := values.(type) {
			case *array.Binary:
				value = v.Value(row)
			case *array.String:
				value = v.Value(row)
			default:
				return nil, fmt.Errorf("unexpected geometry column type %s", field.Type)
			}
			g, err := geo.DecodeGeometry(value, strings.ToUpper(encoding))
			if err != nil {
				return nil, fmt.Errorf("trouble decoding geometry: %w", err)
			}
			geometry = g
		}
		if geometry == nil {
			continue
		}
		if err := checkPolygonal(geometry); err != nil {
			return nil, err
		}
		regions = append(regions, &Region{
			Index:      offset + row,
			Geometry:   geometry,
			Bound:      geometry.Bound(),
			Attributes: attributes,
		})
	}
	return regions, nil
}
