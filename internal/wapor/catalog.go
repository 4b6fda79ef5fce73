package wapor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"wapor-downloader/internal/common"
)

const listParams = "overview=false&paged=false"

// Workspace is a top-level catalog namespace such as WAPOR_2
type Workspace struct {
	Code        string `json:"code"`
	Caption     string `json:"caption"`
	Description string `json:"description"`
}

// Member is one value of a dimension
type Member struct {
	Code        string `json:"code"`
	Caption     string `json:"caption"`
	Description string `json:"description"`
}

// Dimension is one axis of a cube
type Dimension struct {
	Code    string   `json:"code"`
	Caption string   `json:"caption"`
	Type    string   `json:"type"`
	Members []Member `json:"-"`
}

// IsTime reports whether the dimension is the time axis
func (d *Dimension) IsTime() bool {
	return d.Type == common.DimensionTypeTime
}

// MemberByCaption finds the member shown with the given caption
func (d *Dimension) MemberByCaption(caption string) (Member, bool) {
	for _, m := range d.Members {
		if m.Caption == caption {
			return m, true
		}
	}
	return Member{}, false
}

// MemberCodes lists the codes of all members
func (d *Dimension) MemberCodes() []string {
	codes := make([]string, len(d.Members))
	for i, m := range d.Members {
		codes[i] = m.Code
	}
	return codes
}

// MeasureClass is one entry of a classification legend
type MeasureClass struct {
	Code        string `json:"code"`
	Caption     string `json:"caption"`
	Description string `json:"description"`
}

// Measure describes the value stored in a cube's pixels
type Measure struct {
	Code        string         `json:"code"`
	Caption     string         `json:"caption"`
	Description string         `json:"description"`
	Unit        string         `json:"unit"`
	Multiplier  float64        `json:"multiplier"`
	Classes     []MeasureClass `json:"-"`
}

// UnmarshalJSON accepts classes either as a list or keyed by class code
func (m *Measure) UnmarshalJSON(data []byte) error {
	type plain Measure
	var raw struct {
		plain
		Classes json.RawMessage `json:"classes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Measure(raw.plain)
	if raw.Multiplier == 0 {
		m.Multiplier = 1
	}

	if len(raw.Classes) == 0 || string(raw.Classes) == "null" {
		return nil
	}
	var list []MeasureClass
	if err := json.Unmarshal(raw.Classes, &list); err == nil {
		m.Classes = list
		return nil
	}
	var keyed map[string]MeasureClass
	if err := json.Unmarshal(raw.Classes, &keyed); err != nil {
		return fmt.Errorf("measure %s: unrecognised classes: %w", m.Code, err)
	}
	for code, class := range keyed {
		if class.Code == "" {
			class.Code = code
		}
		m.Classes = append(m.Classes, class)
	}
	return nil
}

// LegendEntry is one row of a land cover legend
type LegendEntry struct {
	Code        string
	Caption     string
	Description string
}

// Cube is a downloadable dataset
type Cube struct {
	Code           string         `json:"code"`
	Caption        string         `json:"caption"`
	Description    string         `json:"description"`
	Workspace      string         `json:"workspaceCode"`
	AdditionalInfo map[string]any `json:"additionalInfo"`

	Measure    *Measure    `json:"-"`
	Dimensions []Dimension `json:"-"`
}

func (c *Cube) info(key string) string {
	if v, ok := c.AdditionalInfo[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// TemporalExtent returns the cube's temporal classification, e.g. "Dekadal"
func (c *Cube) TemporalExtent() string { return c.info("temporalExtent") }

// SpatialExtent returns the cube's spatial coverage, e.g. a country or basin
func (c *Cube) SpatialExtent() string { return c.info("spatialExtent") }

// TimeDimension returns the cube's time axis, or nil
func (c *Cube) TimeDimension() *Dimension {
	for i := range c.Dimensions {
		if c.Dimensions[i].IsTime() {
			return &c.Dimensions[i]
		}
	}
	return nil
}

// HasDimension reports whether the cube varies along the given dimension code
func (c *Cube) HasDimension(code string) bool {
	for _, d := range c.Dimensions {
		if d.Code == code {
			return true
		}
	}
	return false
}

// IsLegendCube reports whether the cube is a classification product that
// ships a legend. The marker is matched case-insensitively against the code.
func (c *Cube) IsLegendCube(marker string) bool {
	return marker != "" && strings.Contains(strings.ToLower(c.Code), strings.ToLower(marker))
}

// Legend returns the measure followed by its classes ordered by class code
func (c *Cube) Legend() []LegendEntry {
	if c.Measure == nil {
		return nil
	}
	classes := append([]MeasureClass(nil), c.Measure.Classes...)
	sort.SliceStable(classes, func(i, j int) bool {
		a, errA := strconv.Atoi(classes[i].Code)
		b, errB := strconv.Atoi(classes[j].Code)
		if errA == nil && errB == nil {
			return a < b
		}
		return classes[i].Code < classes[j].Code
	})

	entries := []LegendEntry{{Code: c.Measure.Code, Caption: c.Measure.Caption, Description: c.Measure.Description}}
	for _, class := range classes {
		entries = append(entries, LegendEntry{Code: class.Code, Caption: class.Caption, Description: class.Description})
	}
	return entries
}

func (c *Client) cubesPath() string {
	return "/catalog/workspaces/" + url.PathEscape(c.workspace) + "/cubes"
}

// ListWorkspaces returns every workspace of the catalog
func (c *Client) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	var workspaces []Workspace
	if err := c.get(ctx, "/catalog/workspaces?"+listParams, &workspaces); err != nil {
		return nil, newError(KindCatalog, "list workspaces", "", err)
	}
	return workspaces, nil
}

// ListCubes returns the cubes of the workspace carrying tag. An empty tag
// lists every cube.
func (c *Client) ListCubes(ctx context.Context, tag string) ([]Cube, error) {
	ref := c.cubesPath() + "?" + listParams + "&sort=sort%20%3D%20code"
	if tag != "" {
		ref += "&tags=" + url.QueryEscape(tag)
	}

	var cubes []Cube
	if err := c.get(ctx, ref, &cubes); err != nil {
		return nil, newError(KindCatalog, "list cubes", "", err)
	}
	for i := range cubes {
		if cubes[i].Workspace == "" {
			cubes[i].Workspace = c.workspace
		}
	}
	return cubes, nil
}

// SortForListing orders cubes for display: by caption, or for level 3
// products by spatial extent then code.
func SortForListing(cubes []Cube, tag string) {
	if tag == "L3" {
		sort.SliceStable(cubes, func(i, j int) bool {
			a, b := cubes[i].SpatialExtent(), cubes[j].SpatialExtent()
			if a != b {
				return a < b
			}
			return cubes[i].Code < cubes[j].Code
		})
		return
	}
	sort.SliceStable(cubes, func(i, j int) bool {
		return cubes[i].Caption < cubes[j].Caption
	})
}

// Measures returns the measures of a cube
func (c *Client) Measures(ctx context.Context, cube string) ([]Measure, error) {
	var measures []Measure
	ref := c.cubesPath() + "/" + url.PathEscape(cube) + "/measures?" + listParams
	if err := c.get(ctx, ref, &measures); err != nil {
		return nil, newError(KindCatalog, "measures", "", err)
	}
	return measures, nil
}

// Dimensions returns the dimensions of a cube, without members
func (c *Client) Dimensions(ctx context.Context, cube string) ([]Dimension, error) {
	var dims []Dimension
	ref := c.cubesPath() + "/" + url.PathEscape(cube) + "/dimensions?" + listParams
	if err := c.get(ctx, ref, &dims); err != nil {
		return nil, newError(KindCatalog, "dimensions", "", err)
	}
	return dims, nil
}

// Members returns the members of one dimension of a cube
func (c *Client) Members(ctx context.Context, cube, dimension string) ([]Member, error) {
	var members []Member
	ref := c.cubesPath() + "/" + url.PathEscape(cube) + "/dimensions/" + url.PathEscape(dimension) + "/members?" + listParams
	if err := c.get(ctx, ref, &members); err != nil {
		return nil, newError(KindCatalog, "members", "", err)
	}
	return members, nil
}

// Catalog resolves dataset codes to fully described cubes and caches them
// for the lifetime of a download session.
type Catalog struct {
	client  *Client
	tags    []string
	listing map[string]Cube
	cubes   map[string]*Cube
}

// NewCatalog creates a session catalog. Tags select which cube listings are
// searched; none searches the untagged listing.
func (c *Client) NewCatalog(tags []string) *Catalog {
	return &Catalog{
		client: c,
		tags:   tags,
		cubes:  make(map[string]*Cube),
	}
}

func (cat *Catalog) loadListing(ctx context.Context) error {
	if cat.listing != nil {
		return nil
	}
	tags := cat.tags
	if len(tags) == 0 {
		tags = []string{""}
	}

	listing := make(map[string]Cube)
	for _, tag := range tags {
		cubes, err := cat.client.ListCubes(ctx, tag)
		if err != nil {
			return err
		}
		for _, cube := range cubes {
			listing[cube.Code] = cube
		}
	}
	cat.listing = listing
	return nil
}

// ResolveDataset returns the cube with its measure, dimensions and members
func (cat *Catalog) ResolveDataset(ctx context.Context, code string) (*Cube, error) {
	if cube, ok := cat.cubes[code]; ok {
		return cube, nil
	}
	if err := cat.loadListing(ctx); err != nil {
		return nil, err
	}

	listed, ok := cat.listing[code]
	if !ok {
		return nil, newError(KindCatalog, "resolve", fmt.Sprintf("dataset %s not found in workspace %s", code, cat.client.workspace), nil)
	}
	cube := listed

	measures, err := cat.client.Measures(ctx, code)
	if err != nil {
		return nil, err
	}
	if len(measures) == 0 {
		return nil, newError(KindCatalog, "measures", "", errors.New("dataset "+code+" has no measure"))
	}
	cube.Measure = &measures[0]

	dims, err := cat.client.Dimensions(ctx, code)
	if err != nil {
		return nil, err
	}
	for i := range dims {
		members, err := cat.client.Members(ctx, code, dims[i].Code)
		if err != nil {
			return nil, err
		}
		dims[i].Members = members
	}
	cube.Dimensions = dims

	cat.cubes[code] = &cube
	cat.client.logger.Debug("resolved dataset", "cube", code, "dimensions", len(dims), "multiplier", cube.Measure.Multiplier)
	return &cube, nil
}
