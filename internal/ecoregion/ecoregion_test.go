package ecoregion_test

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/paulmach/orb"
	"github.com/planetlabs/gbifprep/internal/ecoregion"
	"github.com/planetlabs/gbifprep/internal/geo"
	"github.com/planetlabs/gbifprep/internal/geoparquet"
	"github.com/planetlabs/gbifprep/internal/occurrence"
	"github.com/planetlabs/gbifprep/internal/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureRegions() []*test.Region {
	plateau := test.Box(-120, 46, -117, 48)
	hole := test.Box(-119, 46.5, -118, 47)
	plateau = append(plateau, hole[0])

	return []*test.Region{
		{Code: "2", Name: "Puget Lowland", Polygons: []orb.Polygon{test.Box(-123, 47, -122, 48)}},
		{Code: "77", Name: "North Cascades", Polygons: []orb.Polygon{test.Box(-122, 48, -120, 49)}},
		{Code: "10", Name: "Columbia Plateau", Polygons: []orb.Polygon{plateau}},
		{Code: "1", Name: "Coast Range", Polygons: []orb.Polygon{test.Box(-124.5, 46, -123.5, 47), test.Box(-124.5, 47.5, -123.5, 48)}},
	}
}

func albers(t *testing.T) func(orb.Point) orb.Point {
	projection, err := geo.ParseProjection(test.USGSAlbers)
	require.NoError(t, err)
	aea, ok := projection.(*geo.AlbersEqualArea)
	require.True(t, ok)
	return aea.Forward
}

func loadFixture(t *testing.T) *ecoregion.Set {
	zipPath := test.EcoregionZip(t, t.TempDir(), "us_eco_l3", fixtureRegions(), test.USGSAlbers, albers(t))
	set, err := ecoregion.Load(context.Background(), zipPath, nil)
	require.NoError(t, err)
	return set
}

func TestLoadZip(t *testing.T) {
	set := loadFixture(t)

	require.Equal(t, 4, set.Len())
	assert.Equal(t, test.EcoregionFields, set.Fields())
	assert.Equal(t, []string{"Puget Lowland", "North Cascades", "Columbia Plateau", "Coast Range"}, set.Names())

	puget := set.Regions()[0]
	assert.Equal(t, "2", puget.Attributes["US_L3CODE"])
	assert.Equal(t, "2  Puget Lowland", puget.Attributes["L3_KEY"])
	assert.InDelta(t, -123, puget.Bound.Min.X(), 1e-6)
	assert.InDelta(t, 47, puget.Bound.Min.Y(), 1e-6)
	assert.InDelta(t, -122, puget.Bound.Max.X(), 1e-6)
	assert.InDelta(t, 48, puget.Bound.Max.Y(), 1e-6)

	plateau, ok := set.Regions()[2].Geometry.(orb.Polygon)
	require.True(t, ok)
	assert.Len(t, plateau, 2)

	coast, ok := set.Regions()[3].Geometry.(orb.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, coast, 2)

	extent := set.Extent()
	assert.InDelta(t, -124.5, extent.Min.X(), 1e-6)
	assert.InDelta(t, 49, extent.Max.Y(), 1e-6)
}

func names(regions []*ecoregion.Region) []string {
	values := []string{}
	for _, region := range regions {
		values = append(values, region.Name())
	}
	return values
}

func TestIntersecting(t *testing.T) {
	set := loadFixture(t)

	cases := []struct {
		point    orb.Point
		expected []string
	}{
		{point: orb.Point{-122.5, 47.5}, expected: []string{"Puget Lowland"}},
		{point: orb.Point{-121, 48.5}, expected: []string{"North Cascades"}},
		{point: orb.Point{-119.5, 47}, expected: []string{"Columbia Plateau"}},
		{point: orb.Point{-118.5, 46.75}, expected: []string{}},
		{point: orb.Point{-124, 47.75}, expected: []string{"Coast Range"}},
		{point: orb.Point{-124, 47.25}, expected: []string{}},
		{point: orb.Point{-100, 40}, expected: []string{}},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, names(set.Intersecting(c.point)), "point %v", c.point)
	}
}

func TestIntersectingOverlapAndBoundary(t *testing.T) {
	regions := []*ecoregion.Region{}
	for i, polygon := range []orb.Polygon{test.Box(0, 0, 2, 2), test.Box(1, 1, 3, 3)} {
		regions = append(regions, &ecoregion.Region{
			Index:      i,
			Geometry:   polygon,
			Bound:      polygon.Bound(),
			Attributes: map[string]string{ecoregion.NameField: string(rune('a' + i))},
		})
	}
	set := ecoregion.NewSet([]string{ecoregion.NameField}, regions)

	assert.Equal(t, []string{"a", "b"}, names(set.Intersecting(orb.Point{1.5, 1.5})))
	assert.Equal(t, []string{"a", "b"}, names(set.Intersecting(orb.Point{2, 1.5})))
	assert.Equal(t, []string{"b"}, names(set.Intersecting(orb.Point{3, 3})))
	assert.Equal(t, []string{"a"}, names(set.Intersecting(orb.Point{0, 1})))
}

func TestIntersectingHoleEdge(t *testing.T) {
	outer := test.Box(0, 0, 4, 4)
	hole := test.Box(1, 1, 2, 2)
	polygon := append(outer, hole[0])
	region := &ecoregion.Region{
		Geometry:   polygon,
		Bound:      polygon.Bound(),
		Attributes: map[string]string{ecoregion.NameField: "a"},
	}
	set := ecoregion.NewSet([]string{ecoregion.NameField}, []*ecoregion.Region{region})

	assert.Equal(t, []string{"a"}, names(set.Intersecting(orb.Point{1, 1.5})))
	assert.Equal(t, []string{"a"}, names(set.Intersecting(orb.Point{2, 2})))
	assert.Equal(t, []string{"a"}, names(set.Intersecting(orb.Point{0, 2})))
	assert.Equal(t, []string{"a"}, names(set.Intersecting(orb.Point{3, 3})))
	assert.Empty(t, set.Intersecting(orb.Point{1.5, 1.5}))
	assert.Empty(t, set.Intersecting(orb.Point{5, 2}))
}

func TestLoadShapefileWithoutProjection(t *testing.T) {
	dir := t.TempDir()
	shpPath := test.EcoregionShapefile(t, dir, "regions", fixtureRegions()[:2], "", nil)

	set, err := ecoregion.Load(context.Background(), shpPath, nil)
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())
	assert.Equal(t, orb.Bound{Min: orb.Point{-123, 47}, Max: orb.Point{-122, 48}}, set.Regions()[0].Bound)
	assert.Equal(t, "Puget Lowland", set.Regions()[0].Name())
	assert.Equal(t, "77", set.Regions()[1].Attributes["US_L3CODE"])
}

func TestLoadShapefileWithGeographicProjection(t *testing.T) {
	dir := t.TempDir()
	shpPath := test.EcoregionShapefile(t, dir, "regions", fixtureRegions()[:1], test.WGS84, nil)

	set, err := ecoregion.Load(context.Background(), shpPath, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Puget Lowland"}, names(set.Intersecting(orb.Point{-122.5, 47.5})))
}

const regionsGeoJSON = `{
	"type": "FeatureCollection",
	"features": [
		{
			"type": "Feature",
			"properties": {"US_L3CODE": "2", "US_L3NAME": "Puget Lowland", "AREA": 12.5},
			"geometry": {"type": "Polygon", "coordinates": [[[-123, 47], [-122, 47], [-122, 48], [-123, 48], [-123, 47]]]}
		},
		{
			"type": "Feature",
			"properties": {"US_L3CODE": "77", "US_L3NAME": "North Cascades", "AREA": null},
			"geometry": {"type": "Polygon", "coordinates": [[[-122, 48], [-120, 48], [-120, 49], [-122, 49], [-122, 48]]]}
		}
	]
}`

func TestLoadGeoJSON(t *testing.T) {
	name := filepath.Join(t.TempDir(), "regions.geojson")
	require.NoError(t, os.WriteFile(name, []byte(regionsGeoJSON), 0o644))

	set, err := ecoregion.Load(context.Background(), name, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"US_L3CODE", "US_L3NAME", "AREA"}, set.Fields())
	assert.Equal(t, "12.5", set.Regions()[0].Attributes["AREA"])
	_, ok := set.Regions()[1].Attributes["AREA"]
	assert.False(t, ok)
	assert.Equal(t, []string{"North Cascades"}, names(set.Intersecting(orb.Point{-121, 48.5})))
}

func TestLoadGeoJSONKeepsFeatureIndex(t *testing.T) {
	data := `{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "properties": {"US_L3NAME": "Unmapped"}, "geometry": null},
			{
				"type": "Feature",
				"properties": {"US_L3NAME": "Puget Lowland"},
				"geometry": {"type": "Polygon", "coordinates": [[[-123, 47], [-122, 47], [-122, 48], [-123, 48], [-123, 47]]]}
			}
		]
	}`
	name := filepath.Join(t.TempDir(), "regions.geojson")
	require.NoError(t, os.WriteFile(name, []byte(data), 0o644))

	set, err := ecoregion.Load(context.Background(), name, nil)
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	assert.Equal(t, 1, set.Regions()[0].Index)
}

func TestLoadGeoJSONProjected(t *testing.T) {
	data := `{
		"type": "FeatureCollection",
		"crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::3857"}},
		"features": []
	}`
	name := filepath.Join(t.TempDir(), "regions.geojson")
	require.NoError(t, os.WriteFile(name, []byte(data), 0o644))

	_, err := ecoregion.Load(context.Background(), name, nil)
	assert.ErrorIs(t, err, geo.ErrUnsupportedProjection)
}

func TestLoadGeoParquet(t *testing.T) {
	data := test.GeoParquetFromRegions(t, fixtureRegions(), geoparquet.NewMetadata("geometry", "Polygon", "MultiPolygon"))
	name := filepath.Join(t.TempDir(), "regions.parquet")
	require.NoError(t, os.WriteFile(name, data, 0o644))

	set, err := ecoregion.Load(context.Background(), name, nil)
	require.NoError(t, err)

	assert.Equal(t, test.EcoregionFields, set.Fields())
	assert.Equal(t, 4, set.Len())
	assert.Equal(t, []string{"Coast Range"}, names(set.Intersecting(orb.Point{-124, 46.5})))
}

func TestLoadGeoParquetProjected(t *testing.T) {
	metadata := geoparquet.NewMetadata("geometry", "Polygon")
	metadata.Columns["geometry"].CRS = &geoparquet.Proj{Id: &geoparquet.ProjId{Authority: "EPSG", Code: 5070}}
	data := test.GeoParquetFromRegions(t, fixtureRegions()[:1], metadata)
	name := filepath.Join(t.TempDir(), "regions.parquet")
	require.NoError(t, os.WriteFile(name, data, 0o644))

	_, err := ecoregion.Load(context.Background(), name, nil)
	assert.ErrorIs(t, err, geo.ErrUnsupportedProjection)
}

func TestLoadUnsupportedFormat(t *testing.T) {
	_, err := ecoregion.Load(context.Background(), "regions.kml", nil)
	assert.ErrorIs(t, err, ecoregion.ErrUnsupportedFormat)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := ecoregion.Load(context.Background(), filepath.Join(t.TempDir(), "us_eco_l3.zip"), nil)
	assert.Error(t, err)
}

func TestLoadShapefileMissingAttributes(t *testing.T) {
	dir := t.TempDir()
	shpPath := test.EcoregionShapefile(t, dir, "regions", fixtureRegions()[:1], test.WGS84, nil)
	require.NoError(t, os.Remove(filepath.Join(dir, "regions.dbf")))

	_, err := ecoregion.Load(context.Background(), shpPath, nil)
	assert.ErrorIs(t, err, ecoregion.ErrMissingAttributes)
}

func zipFiles(t *testing.T, name string, dir string, members ...string) {
	output, err := os.Create(name)
	require.NoError(t, err)
	defer output.Close()

	archive := zip.NewWriter(output)
	for _, member := range members {
		data, err := os.ReadFile(filepath.Join(dir, member))
		require.NoError(t, err)
		entry, err := archive.Create(member)
		require.NoError(t, err)
		_, err = entry.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, archive.Close())
}

func TestLoadZipMissingAttributes(t *testing.T) {
	dir := t.TempDir()
	test.EcoregionShapefile(t, dir, "us_eco_l3", fixtureRegions()[:1], test.WGS84, nil)

	name := filepath.Join(t.TempDir(), "us_eco_l3.zip")
	zipFiles(t, name, dir, "us_eco_l3.shp", "us_eco_l3.shx", "us_eco_l3.prj")

	_, err := ecoregion.Load(context.Background(), name, nil)
	assert.ErrorIs(t, err, ecoregion.ErrMissingAttributes)
}

func TestLoadZipAttributesForOtherShapefile(t *testing.T) {
	dir := t.TempDir()
	test.EcoregionShapefile(t, dir, "us_eco_l3", fixtureRegions()[:1], test.WGS84, nil)
	require.NoError(t, os.Rename(filepath.Join(dir, "us_eco_l3.dbf"), filepath.Join(dir, "other.dbf")))

	name := filepath.Join(t.TempDir(), "us_eco_l3.zip")
	zipFiles(t, name, dir, "us_eco_l3.shp", "us_eco_l3.shx", "other.dbf")

	_, err := ecoregion.Load(context.Background(), name, nil)
	assert.ErrorIs(t, err, ecoregion.ErrMissingAttributes)
}

func TestLoadZipMultipleShapefiles(t *testing.T) {
	dir := t.TempDir()
	test.EcoregionShapefile(t, dir, "a", fixtureRegions()[:1], test.WGS84, nil)
	test.EcoregionShapefile(t, dir, "b", fixtureRegions()[1:2], test.WGS84, nil)

	name := filepath.Join(t.TempDir(), "regions.zip")
	zipFiles(t, name, dir, "a.shp", "a.shx", "a.dbf", "b.shp", "b.shx", "b.dbf")

	_, err := ecoregion.Load(context.Background(), name, nil)
	assert.ErrorContains(t, err, "more than one shapefile")
}

func TestJoin(t *testing.T) {
	set := loadFixture(t)

	record := test.OccurrenceRecord(t, []*test.Occurrence{
		test.NewOccurrence(0, "Aves", "Corvus corax", -122.5, 47.5),
		test.NewOccurrence(1, "Aves", "Corvus corax", -100, 40),
		test.NewOccurrence(2, "Mammalia", "Lynx rufus", -121, 48.5),
		test.NewOccurrence(3, "Reptilia", "Thamnophis sirtalis", -119.5, 47),
	})
	defer record.Release()

	ctx := context.Background()
	withGeometry, err := occurrence.WithGeometry(ctx, record)
	require.NoError(t, err)
	defer withGeometry.Release()

	joined, err := ecoregion.Join(ctx, set, withGeometry, occurrence.GeometryColumn)
	require.NoError(t, err)
	defer joined.Release()

	require.Equal(t, int64(3), joined.NumRows())
	require.Equal(t, int(withGeometry.NumCols())+1+len(set.Fields()), int(joined.NumCols()))

	ids := joined.Column(0).(*array.Int64)
	assert.Equal(t, []int64{0, 2, 3}, ids.Int64Values())

	schema := joined.Schema()
	indexColumn := schema.FieldIndices(ecoregion.IndexColumn)
	require.Len(t, indexColumn, 1)
	assert.Equal(t, []int64{0, 1, 2}, joined.Column(indexColumn[0]).(*array.Int64).Int64Values())

	nameColumn := schema.FieldIndices(ecoregion.NameField)
	require.Len(t, nameColumn, 1)
	regionNames := joined.Column(nameColumn[0]).(*array.String)
	assert.Equal(t, "Puget Lowland", regionNames.Value(0))
	assert.Equal(t, "North Cascades", regionNames.Value(1))
	assert.Equal(t, "Columbia Plateau", regionNames.Value(2))

	metadata, err := geoparquet.GetMetadataFromSchema(schema)
	require.NoError(t, err)
	assert.Equal(t, occurrence.GeometryColumn, metadata.PrimaryColumn)

	filtered, err := occurrence.RegionFilter(occurrence.RegionNames...)(ctx, joined)
	require.NoError(t, err)
	defer filtered.Release()
	assert.Equal(t, []int64{0, 2}, filtered.Column(0).(*array.Int64).Int64Values())
}

func TestJoinOverlapAndNameClash(t *testing.T) {
	regions := []*ecoregion.Region{}
	for i, polygon := range []orb.Polygon{test.Box(-123, 47, -121, 49), test.Box(-122, 47, -120, 49)} {
		regions = append(regions, &ecoregion.Region{
			Index:      i,
			Geometry:   polygon,
			Bound:      polygon.Bound(),
			Attributes: map[string]string{"species": "region"},
		})
	}
	set := ecoregion.NewSet([]string{"species", "missing"}, regions)

	record := test.OccurrenceRecord(t, []*test.Occurrence{
		test.NewOccurrence(7, "Aves", "Corvus corax", -121.5, 48),
	})
	defer record.Release()

	ctx := context.Background()
	withGeometry, err := occurrence.WithGeometry(ctx, record)
	require.NoError(t, err)
	defer withGeometry.Release()

	joined, err := ecoregion.Join(ctx, set, withGeometry, occurrence.GeometryColumn)
	require.NoError(t, err)
	defer joined.Release()

	require.Equal(t, int64(2), joined.NumRows())
	assert.Equal(t, []int64{7, 7}, joined.Column(0).(*array.Int64).Int64Values())

	schema := joined.Schema()
	assert.True(t, schema.HasField("species_right"))
	missing := joined.Column(schema.FieldIndices("missing")[0])
	assert.Equal(t, 2, missing.NullN())

	_, err = ecoregion.Join(ctx, set, record, occurrence.GeometryColumn)
	assert.ErrorContains(t, err, `expected one "geometry" column`)
}
