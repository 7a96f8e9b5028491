package store

import (
	"archive/zip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestShapefile writes two polygons: a single-part square and a
// two-part polygon, and returns the .shp path.
func writeTestShapefile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "risk.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("ID", 16),
		shp.StringField("NAME", 32),
	}))

	square := (*shp.Polygon)(shp.NewPolyLine([][]shp.Point{{
		{X: -43.2, Y: -22.9}, {X: -43.2, Y: -22.8}, {X: -43.1, Y: -22.8}, {X: -43.1, Y: -22.9}, {X: -43.2, Y: -22.9},
	}}))
	twoParts := (*shp.Polygon)(shp.NewPolyLine([][]shp.Point{
		{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}, {X: 0, Y: 0}},
		{{X: 2, Y: 2}, {X: 2, Y: 3}, {X: 3, Y: 3}, {X: 2, Y: 2}},
	}))

	row := w.Write(square)
	require.NoError(t, w.WriteAttribute(int(row), 0, "A1"))
	require.NoError(t, w.WriteAttribute(int(row), 1, "Complexo"))
	row = w.Write(twoParts)
	require.NoError(t, w.WriteAttribute(int(row), 0, "B2"))
	require.NoError(t, w.WriteAttribute(int(row), 1, "Ilhas"))
	w.Close()
	return path
}

func zipShapefile(t *testing.T, shpPath string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "risk.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)

	base := shpPath[:len(shpPath)-len(filepath.Ext(shpPath))]
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		src, err := os.Open(base + ext)
		require.NoError(t, err)
		dst, err := zw.Create("nested/risk" + ext)
		require.NoError(t, err)
		_, err = io.Copy(dst, src)
		require.NoError(t, err)
		require.NoError(t, src.Close())
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return zipPath
}

func assertShapefilePolygons(t *testing.T, s *ShapefileRiskAreas) {
	t.Helper()
	polys, err := s.LoadRiskAreas(context.Background())
	require.NoError(t, err)
	require.Len(t, polys, 3)

	assert.Equal(t, "A1", polys[0].ID)
	assert.Equal(t, "Complexo", polys[0].Name)
	require.Len(t, polys[0].Ring, 5)
	assert.InDelta(t, -22.9, polys[0].Ring[0].Lat, 1e-9)
	assert.InDelta(t, -43.2, polys[0].Ring[0].Lng, 1e-9)

	assert.Equal(t, "B2#1", polys[1].ID)
	assert.Equal(t, "B2#2", polys[2].ID)
	assert.Len(t, polys[2].Ring, 4)
	assert.Equal(t, "Ilhas", polys[2].Name)
}

func TestShapefileRiskAreas_Path(t *testing.T) {
	path := writeTestShapefile(t, t.TempDir())
	assertShapefilePolygons(t, NewShapefileRiskAreas(path))
}

func TestShapefileRiskAreas_Zip(t *testing.T) {
	path := writeTestShapefile(t, t.TempDir())
	assertShapefilePolygons(t, NewShapefileRiskAreas(zipShapefile(t, path)))
}

func TestShapefileRiskAreas_URL(t *testing.T) {
	zipPath := zipShapefile(t, writeTestShapefile(t, t.TempDir()))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, zipPath)
	}))
	defer srv.Close()

	s := NewShapefileRiskAreas(srv.URL + "/risk.zip")
	s.HTTPClient = srv.Client()
	assertShapefilePolygons(t, s)
}

func TestShapefileRiskAreas_MissingIDField(t *testing.T) {
	path := writeTestShapefile(t, t.TempDir())
	s := &ShapefileRiskAreas{Source: path, IDField: "CODE", NameField: "NAME"}

	polys, err := s.LoadRiskAreas(context.Background())
	require.NoError(t, err)
	require.Len(t, polys, 3)
	assert.Equal(t, "0", polys[0].ID)
	assert.Equal(t, "1#1", polys[1].ID)
}

func TestShapefileRiskAreas_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := NewShapefileRiskAreas(filepath.Join(t.TempDir(), "nope.shp")).LoadRiskAreas(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "shapefile: open")
	})

	t.Run("bad status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := NewShapefileRiskAreas(srv.URL + "/x.zip").LoadRiskAreas(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
	})

	t.Run("zip without shp", func(t *testing.T) {
		zipPath := filepath.Join(t.TempDir(), "empty.zip")
		f, err := os.Create(zipPath)
		require.NoError(t, err)
		zw := zip.NewWriter(f)
		_, err = zw.Create("readme.txt")
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		require.NoError(t, f.Close())

		_, err = NewShapefileRiskAreas(zipPath).LoadRiskAreas(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no .shp file")
	})
}
