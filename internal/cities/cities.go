// Package cities loads the city reference data: the province-grouped city
// list with the pinyin slugs used by the history site, and the city codes
// used by the realtime API. File order is preserved since it drives crawl
// order.
package cities

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrCityNotFound is returned when a city has no entry.
var ErrCityNotFound = errors.New("city not found")

// City is one city of the reference set.
type City struct {
	Name     string `json:"name"`
	Pinyin   string `json:"pinyin,omitempty"`
	Code     string `json:"code,omitempty"`
	Province string `json:"-"`
}

// Province groups cities in file order.
type Province struct {
	Name   string
	Cities []City
}

// Directory is the loaded reference data.
type Directory struct {
	provinces []Province
	codes     []City
	byName    map[string]City
}

// Load reads the cities file and, when codesPath is non-empty, the city codes file.
func Load(citiesPath, codesPath string) (*Directory, error) {
	f, err := os.Open(citiesPath)
	if err != nil {
		return nil, fmt.Errorf("open cities: %w", err)
	}
	defer f.Close()

	var codes io.Reader
	if codesPath != "" {
		cf, err := os.Open(codesPath)
		if err != nil {
			return nil, fmt.Errorf("open city codes: %w", err)
		}
		defer cf.Close()
		codes = cf
	}

	return Parse(f, codes)
}

// Parse decodes the reference data. codes may be nil.
func Parse(citiesJSON, codesJSON io.Reader) (*Directory, error) {
	provinces, err := decodeGrouped(citiesJSON)
	if err != nil {
		return nil, fmt.Errorf("parse cities: %w", err)
	}

	d := &Directory{provinces: provinces, byName: make(map[string]City)}
	for _, p := range provinces {
		for _, c := range p.Cities {
			d.byName[c.Name] = c
		}
	}

	if codesJSON == nil {
		return d, nil
	}

	grouped, err := decodeGrouped(codesJSON)
	if err != nil {
		return nil, fmt.Errorf("parse city codes: %w", err)
	}
	for _, p := range grouped {
		for _, c := range p.Cities {
			if c.Code == "" {
				continue
			}
			d.codes = append(d.codes, c)
			known := d.byName[c.Name]
			known.Name = c.Name
			known.Code = c.Code
			if known.Province == "" {
				known.Province = c.Province
			}
			d.byName[c.Name] = known
		}
	}
	return d, nil
}

// decodeGrouped reads {"province": [{...}, ...], ...} keeping key order,
// which a map cannot.
func decodeGrouped(r io.Reader) ([]Province, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var provinces []Province
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected province name, got %v", tok)
		}

		var list []City
		if err := dec.Decode(&list); err != nil {
			return nil, fmt.Errorf("province %s: %w", name, err)
		}
		for i := range list {
			list[i].Province = name
		}
		provinces = append(provinces, Province{Name: name, Cities: list})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return provinces, nil
}

// Provinces returns the provinces in file order.
func (d *Directory) Provinces() []Province {
	return d.provinces
}

// Cities returns every city of the cities file in province then file order.
func (d *Directory) Cities() []City {
	var out []City
	for _, p := range d.provinces {
		out = append(out, p.Cities...)
	}
	return out
}

// CodedCities returns the cities of the codes file in file order.
func (d *Directory) CodedCities() []City {
	return d.codes
}

// Lookup returns everything known about a city.
func (d *Directory) Lookup(name string) (City, error) {
	c, ok := d.byName[name]
	if !ok {
		return City{}, fmt.Errorf("%s: %w", name, ErrCityNotFound)
	}
	return c, nil
}

// Code returns the realtime API code of a city.
func (d *Directory) Code(name string) (string, bool) {
	c, ok := d.byName[name]
	return c.Code, ok && c.Code != ""
}

// Count returns the number of cities in the cities file.
func (d *Directory) Count() int {
	n := 0
	for _, p := range d.provinces {
		n += len(p.Cities)
	}
	return n
}
