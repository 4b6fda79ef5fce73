package raster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/afero"
)

// LoadCutline reads the clip boundary from a GeoJSON (FeatureCollection,
// Feature or bare geometry) or WKT file. Coordinates must be EPSG:4326
// longitude/latitude; only polygonal geometries are kept.
func LoadCutline(fs afero.Fs, path string) (orb.MultiPolygon, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, &Error{Op: "read cutline", Path: path, Err: err}
	}

	var geoms []orb.Geometry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wkt", ".txt":
		g, err := wkt.Unmarshal(string(bytes.TrimSpace(data)))
		if err != nil {
			return nil, &Error{Op: "parse cutline", Path: path, Err: err}
		}
		geoms = append(geoms, g)
	default:
		geoms, err = geojsonGeometries(data)
		if err != nil {
			return nil, &Error{Op: "parse cutline", Path: path, Err: err}
		}
	}

	var mp orb.MultiPolygon
	for _, g := range geoms {
		mp = appendPolygons(mp, g)
	}
	if len(mp) == 0 {
		return nil, &Error{Op: "parse cutline", Path: path, Err: fmt.Errorf("no polygon geometry found")}
	}
	return mp, nil
}

func geojsonGeometries(data []byte) ([]orb.Geometry, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	switch probe.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, err
		}
		geoms := make([]orb.Geometry, 0, len(fc.Features))
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
		return geoms, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, err
		}
		return []orb.Geometry{f.Geometry}, nil
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, err
		}
		return []orb.Geometry{g.Geometry()}, nil
	}
}

func appendPolygons(mp orb.MultiPolygon, g orb.Geometry) orb.MultiPolygon {
	switch geom := g.(type) {
	case orb.Polygon:
		return append(mp, geom)
	case orb.MultiPolygon:
		return append(mp, geom...)
	case orb.Collection:
		for _, inner := range geom {
			mp = appendPolygons(mp, inner)
		}
	}
	return mp
}

// CutlineBounds returns the bounding box of a cutline
func CutlineBounds(mp orb.MultiPolygon) orb.Bound {
	return mp.Bound()
}
