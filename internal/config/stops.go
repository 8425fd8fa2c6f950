package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// StopRoute is one (stop, route) pair to poll
type StopRoute struct {
	StopID  int64 `yaml:"stop_id" validate:"required,gt=0"`
	RouteID int64 `yaml:"route_id" validate:"required,gt=0"`
}

type stopsFile struct {
	Stops []StopRoute `yaml:"stops" validate:"required,min=1,dive"`
}

// LoadStops reads the YAML stop list:
//
//	stops:
//	  - stop_id: 10001
//	    route_id: 2045
//
// Duplicate pairs are kept once, in first-seen order.
func LoadStops(path string) ([]StopRoute, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stops file: %w", err)
	}
	return ParseStops(data)
}

// ParseStops decodes and validates a YAML stop list
func ParseStops(data []byte) ([]StopRoute, error) {
	var f stopsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse stops file: %w", err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("invalid stops file: %w", err)
	}

	seen := make(map[StopRoute]bool, len(f.Stops))
	stops := make([]StopRoute, 0, len(f.Stops))
	for _, s := range f.Stops {
		if seen[s] {
			continue
		}
		seen[s] = true
		stops = append(stops, s)
	}
	return stops, nil
}
