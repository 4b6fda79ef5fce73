package common

// Workspace and product identifiers used across the application
const (
	// WorkspaceWaPOR2 is the default WaPOR version 2 workspace
	WorkspaceWaPOR2 = "WAPOR_2"

	// WorkspaceASIS is the agricultural stress index workspace, whose rasters
	// carry flag values above the valid range
	WorkspaceASIS = "ASIS"

	// WorkspaceGLEAM3 returns intentionally repeated cells in query results
	WorkspaceGLEAM3 = "GLEAM3"

	// DefaultBaseURL is the root of the GISMGR v1 API
	DefaultBaseURL = "https://io.apps.fao.org/gismgr/api/v1"

	// CatalogCRS is the coordinate reference system of crop polygons
	CatalogCRS = "epsg:4326"
)

// Dimension type tags returned by the catalog
const (
	DimensionTypeTime = "TIME"
	DimensionTypeWhat = "WHAT"
)

// Well known dimension codes
const (
	DimensionDekad   = "DEKAD"
	DimensionSeason  = "SEASON"
	DimensionStage   = "STAGE"
	DimensionCountry = "COUNTRY"
	DimensionBasin   = "BASIN"
)

// DefaultCatalogTags are the product levels listed for WAPOR_2
var DefaultCatalogTags = []string{"L1", "L2", "L3"}
