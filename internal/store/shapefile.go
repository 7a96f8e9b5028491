package store

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ridecorr/internal/model"
)

// ShapefileRiskAreas loads risk polygons from an ESRI shapefile. Source may
// be a .shp path, a .zip archive containing one, or an http(s) URL to such
// an archive.
type ShapefileRiskAreas struct {
	Source    string
	IDField   string
	NameField string

	// HTTPClient is used for URL sources; nil means http.DefaultClient.
	HTTPClient *http.Client
}

// NewShapefileRiskAreas returns a loader using the ID and NAME attributes.
func NewShapefileRiskAreas(source string) *ShapefileRiskAreas {
	return &ShapefileRiskAreas{Source: source, IDField: "ID", NameField: "NAME"}
}

// LoadRiskAreas implements RiskAreaRepository. Each polygon part becomes its
// own RiskPolygon. Records without an ID attribute are keyed by row number.
func (s *ShapefileRiskAreas) LoadRiskAreas(ctx context.Context) ([]model.RiskPolygon, error) {
	log := zap.L().With(zap.String("component", "store.shapefile"))

	tempDir, err := os.MkdirTemp("", "ridecorr-shp-*")
	if err != nil {
		return nil, eris.Wrap(err, "shapefile: create temp dir")
	}
	defer os.RemoveAll(tempDir) //nolint:errcheck

	shpPath, err := s.resolve(ctx, tempDir)
	if err != nil {
		return nil, err
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrap(err, "shapefile: open")
	}
	defer func() { _ = reader.Close() }()

	idIdx := fieldIndex(reader, s.IDField)
	nameIdx := fieldIndex(reader, s.NameField)

	var (
		out     []model.RiskPolygon
		skipped int
	)
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "shapefile: load canceled")
		}
		row, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			skipped++
			continue
		}

		id := strconv.Itoa(row)
		if idIdx >= 0 {
			if v := strings.TrimSpace(reader.Attribute(idIdx)); v != "" {
				id = v
			}
		}
		var name string
		if nameIdx >= 0 {
			name = strings.TrimSpace(reader.Attribute(nameIdx))
		}
		out = append(out, polygonParts(id, name, poly)...)
	}

	log.Info("risk areas loaded from shapefile",
		zap.String("source", s.Source),
		zap.Int("polygons", len(out)),
		zap.Int("skipped_shapes", skipped),
	)
	return out, nil
}

// resolve returns a local .shp path, downloading and extracting as needed.
func (s *ShapefileRiskAreas) resolve(ctx context.Context, tempDir string) (string, error) {
	src := s.Source
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		client := s.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}
		dest := filepath.Join(tempDir, "risk_areas.zip")
		if err := downloadFile(ctx, client, src, dest); err != nil {
			return "", eris.Wrap(err, "shapefile: download")
		}
		src = dest
	}

	if strings.EqualFold(filepath.Ext(src), ".zip") {
		extractDir := filepath.Join(tempDir, "extract")
		if err := os.MkdirAll(extractDir, 0o755); err != nil {
			return "", eris.Wrap(err, "shapefile: create extract dir")
		}
		if err := extractZIP(src, extractDir); err != nil {
			return "", eris.Wrap(err, "shapefile: extract zip")
		}
		p, err := findFileByExt(extractDir, ".shp")
		if err != nil {
			return "", eris.Wrap(err, "shapefile: find .shp file")
		}
		return p, nil
	}
	return src, nil
}

// polygonParts splits a shapefile polygon into one ring per part. Shapefile
// points are X=longitude, Y=latitude.
func polygonParts(id, name string, p *shp.Polygon) []model.RiskPolygon {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}
	out := make([]model.RiskPolygon, 0, p.NumParts)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		rp := model.RiskPolygon{ID: id, Name: name}
		if p.NumParts > 1 {
			rp.ID = fmt.Sprintf("%s#%d", id, i+1)
		}
		for _, pt := range p.Points[start:end] {
			rp.Ring = append(rp.Ring, model.Coordinate{Lat: pt.Y, Lng: pt.X})
		}
		out = append(out, rp)
	}
	return out
}

// downloadFile downloads a URL to a local file.
func downloadFile(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eris.Wrap(err, "build request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return eris.Wrap(err, "download")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("download returned status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return eris.Wrap(err, "create file")
	}
	defer f.Close() //nolint:errcheck

	_, err = io.Copy(f, resp.Body)
	return eris.Wrap(err, "write file")
}

// extractZIP flattens a ZIP archive into destDir.
func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "open zip")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := extractEntry(f, filepath.Join(destDir, filepath.Base(f.Name))); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "open zip entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return eris.Wrapf(err, "create %s", destPath)
	}
	defer out.Close() //nolint:errcheck

	_, err = io.Copy(out, rc)
	return eris.Wrapf(err, "extract %s", f.Name)
}

// findFileByExt finds the first file with the given extension in a directory.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}

// fieldIndex returns the index of a named field in the shapefile, or -1 if not found.
func fieldIndex(reader *shp.Reader, name string) int {
	if name == "" {
		return -1
	}
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}
