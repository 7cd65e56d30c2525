package cities_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pm25forecast/pm25forecast/internal/cities"
)

const citiesJSON = `{
  "河北省": [{"name": "石家庄", "pinyin": "shijiazhuang"}, {"name": "唐山", "pinyin": "tangshan"}],
  "北京市": [{"name": "北京", "pinyin": "beijing"}]
}`

const codesJSON = `{
  "北京市": [{"name": "北京", "code": "110000"}],
  "河北省": [{"name": "石家庄", "code": "130100"}]
}`

func TestParse_PreservesFileOrder(t *testing.T) {
	d, err := cities.Parse(strings.NewReader(citiesJSON), strings.NewReader(codesJSON))
	require.NoError(t, err)

	provinces := d.Provinces()
	require.Len(t, provinces, 2)
	assert.Equal(t, "河北省", provinces[0].Name)
	assert.Equal(t, "北京市", provinces[1].Name)

	all := d.Cities()
	require.Len(t, all, 3)
	assert.Equal(t, "石家庄", all[0].Name)
	assert.Equal(t, "tangshan", all[1].Pinyin)
	assert.Equal(t, "河北省", all[1].Province)
	assert.Equal(t, 3, d.Count())

	coded := d.CodedCities()
	require.Len(t, coded, 2)
	assert.Equal(t, "北京", coded[0].Name)
}

func TestParse_MergesCodes(t *testing.T) {
	d, err := cities.Parse(strings.NewReader(citiesJSON), strings.NewReader(codesJSON))
	require.NoError(t, err)

	code, ok := d.Code("北京")
	assert.True(t, ok)
	assert.Equal(t, "110000", code)

	_, ok = d.Code("唐山")
	assert.False(t, ok)

	c, err := d.Lookup("石家庄")
	require.NoError(t, err)
	assert.Equal(t, "shijiazhuang", c.Pinyin)
	assert.Equal(t, "130100", c.Code)

	_, err = d.Lookup("上海")
	assert.ErrorIs(t, err, cities.ErrCityNotFound)
}

func TestParse_RejectsNonObject(t *testing.T) {
	_, err := cities.Parse(strings.NewReader(`[1, 2]`), nil)
	assert.Error(t, err)
}

func TestLoad_ShippedReferenceData(t *testing.T) {
	root := filepath.Join("..", "..", "config")
	d, err := cities.Load(filepath.Join(root, "cities.json"), filepath.Join(root, "city_codes.json"))
	require.NoError(t, err)

	assert.Equal(t, 13, d.Count())
	assert.Len(t, d.CodedCities(), 13)
	for _, c := range d.Cities() {
		assert.NotEmpty(t, c.Pinyin, c.Name)
		_, ok := d.Code(c.Name)
		assert.True(t, ok, c.Name)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := cities.Load(filepath.Join(t.TempDir(), "nope.json"), "")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
