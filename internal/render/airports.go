package render

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AirportLookup resolves an IATA code to display names.
type AirportLookup interface {
	Lookup(code string) (city, airport string)
}

type Airport struct {
	City string `yaml:"city"`
	Name string `yaml:"airport"`
}

// Airports is a static code table. Unknown codes echo the raw code for both names.
type Airports map[string]Airport

func DefaultAirports() Airports {
	return Airports{
		"ICN": {City: "SEOUL", Name: "Incheon International Airport Terminal - 1"},
		"DAC": {City: "DHAKA", Name: "Hazrat Shahjalal International Airport"},
	}
}

func (a Airports) Lookup(code string) (string, string) {
	key := strings.ToUpper(strings.TrimSpace(code))
	if key == "" {
		return "", ""
	}
	if entry, ok := a[key]; ok {
		return entry.City, entry.Name
	}
	return code, code
}

// LoadAirports reads a YAML mapping of code to {city, airport} and merges it over the
// built-in table. An empty path returns the built-ins.
func LoadAirports(path string) (Airports, error) {
	airports := DefaultAirports()
	if strings.TrimSpace(path) == "" {
		return airports, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read airports file: %w", err)
	}

	var extra map[string]Airport
	if err := yaml.Unmarshal(raw, &extra); err != nil {
		return nil, fmt.Errorf("parse airports file %s: %w", path, err)
	}

	for code, entry := range extra {
		key := strings.ToUpper(strings.TrimSpace(code))
		if key == "" {
			continue
		}
		airports[key] = entry
	}
	return airports, nil
}
