package utils

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// ReadStopIDs loads a JSON array of stop ids from path. Blank entries are
// skipped with a warning; a file with no usable ids is an error.
func ReadStopIDs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stops file: %w", err)
	}

	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing stops file %s: %w", path, err)
	}

	stops := make([]string, 0, len(raw))
	for i, id := range raw {
		id = strings.TrimSpace(id)
		if id == "" {
			log.Warn().Msgf("skipping blank stop id at index %d in %s", i, path)
			continue
		}
		stops = append(stops, id)
	}

	if len(stops) == 0 {
		return nil, fmt.Errorf("stops file %s contains no stop ids", path)
	}

	log.Info().Msgf("found %d stops to scrap", len(stops))
	return stops, nil
}

// ValidateURL checks that rawURL is an absolute http or https URL
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme == "" {
		return fmt.Errorf("URL %s is missing a scheme", rawURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %s", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL %s is missing a host", rawURL)
	}
	return nil
}
