package test

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

// USGSAlbers is the projection of the EPA ecoregion shapefiles.
const USGSAlbers = `PROJCS["USA_Contiguous_Albers_Equal_Area_Conic_USGS_version",GEOGCS["GCS_North_American_1983",DATUM["D_North_American_1983",SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Albers"],PARAMETER["False_Easting",0.0],PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",-96.0],PARAMETER["Standard_Parallel_1",29.5],PARAMETER["Standard_Parallel_2",45.5],PARAMETER["Latitude_Of_Origin",23.0],UNIT["Meter",1.0]]`

const WGS84 = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// Region is an ecoregion fixture with one or more polygons in longitude and
// latitude.
type Region struct {
	Code     string
	Name     string
	Polygons []orb.Polygon
}

var EcoregionFields = []string{"US_L3CODE", "US_L3NAME", "L3_KEY"}

// Box returns a rectangular polygon.
func Box(xmin, ymin, xmax, ymax float64) orb.Polygon {
	return orb.Polygon{{{xmin, ymin}, {xmax, ymin}, {xmax, ymax}, {xmin, ymax}, {xmin, ymin}}}
}

// EcoregionShapefile writes regions to a shapefile in dir and returns the
// path of the .shp file.  Coordinates are passed through project before
// writing.  The prj sidecar is skipped when prj is empty.
func EcoregionShapefile(t *testing.T, dir string, name string, regions []*Region, prj string, project func(orb.Point) orb.Point) string {
	if project == nil {
		project = func(p orb.Point) orb.Point { return p }
	}

	shpPath := filepath.Join(dir, name+".shp")
	writer, err := shp.Create(shpPath, shp.POLYGON)
	require.NoError(t, err)

	require.NoError(t, writer.SetFields([]shp.Field{
		shp.StringField(EcoregionFields[0], 5),
		shp.StringField(EcoregionFields[1], 100),
		shp.StringField(EcoregionFields[2], 120),
	}))

	for _, region := range regions {
		parts := [][]shp.Point{}
		for _, polygon := range region.Polygons {
			for i, ring := range polygon {
				ring = ring.Clone()
				// shapefile outer rings are clockwise, holes counterclockwise
				if (i == 0) != (ring.Orientation() == orb.CW) {
					ring.Reverse()
				}
				part := make([]shp.Point, len(ring))
				for j, point := range ring {
					projected := project(point)
					part[j] = shp.Point{X: projected.X(), Y: projected.Y()}
				}
				parts = append(parts, part)
			}
		}
		polygon := shp.Polygon(*shp.NewPolyLine(parts))
		row := int(writer.Write(&polygon))
		require.NoError(t, writer.WriteAttribute(row, 0, region.Code))
		require.NoError(t, writer.WriteAttribute(row, 1, region.Name))
		require.NoError(t, writer.WriteAttribute(row, 2, region.Code+"  "+region.Name))
	}
	writer.Close()

	// the writer names the attribute table "<name>dbf"
	base := strings.TrimSuffix(shpPath, ".shp")
	require.NoError(t, os.Rename(base+"dbf", base+".dbf"))

	if prj != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".prj"), []byte(prj), 0o644))
	}
	return shpPath
}

// EcoregionZip writes a zipped shapefile like us_eco_l3.zip and returns its
// path.
func EcoregionZip(t *testing.T, dir string, name string, regions []*Region, prj string, project func(orb.Point) orb.Point) string {
	shpDir := t.TempDir()
	EcoregionShapefile(t, shpDir, name, regions, prj, project)

	zipPath := filepath.Join(dir, name+".zip")
	output, err := os.Create(zipPath)
	require.NoError(t, err)
	defer output.Close()

	archive := zip.NewWriter(output)
	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		source, err := os.Open(filepath.Join(shpDir, name+ext))
		if os.IsNotExist(err) {
			continue
		}
		require.NoError(t, err)

		entry, err := archive.Create(name + ext)
		require.NoError(t, err)
		_, err = io.Copy(entry, source)
		require.NoError(t, err)
		require.NoError(t, source.Close())
	}
	require.NoError(t, archive.Close())
	return zipPath
}

func MultiPolygon(region *Region) orb.MultiPolygon {
	return orb.MultiPolygon(region.Polygons)
}
