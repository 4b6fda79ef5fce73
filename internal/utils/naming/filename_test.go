package naming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionDirName(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	assert.Equal(t, "WAPOR_2 2024-03-05-14-07-09", SessionDirName("WAPOR_2", ts))
}

func TestRasterFilename(t *testing.T) {
	assert.Equal(t, "L1_AETI_D_1901_01[2019-01-01,2019-01-11).tif",
		RasterFilename("L1_AETI_D_1901_01", "[2019-01-01,2019-01-11)"))
	assert.Equal(t, "L2_LCC_A_2015.tif", RasterFilename("L2_LCC_A_2015", ""))
	assert.Equal(t, "a_b.tif", RasterFilename("a/b", ""))
}

func TestCSVFilenames(t *testing.T) {
	assert.Equal(t, "L2_LCC_A Legend.csv", LegendFilename("L2_LCC_A"))
	assert.Equal(t, "L1_AETI_D list.csv", ListFilename("L1_AETI_D"))
}

func TestSanitizeComponent(t *testing.T) {
	assert.Equal(t, "x_y_z", SanitizeComponent(" x:y|z "))
	assert.Equal(t, "[2019-01-01,2019-01-11)", SanitizeComponent("[2019-01-01,2019-01-11)"))
}
