package models

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
)

// URLType category of a scrap URL, drives the per-page wait behavior
type URLType int

const (
	URLTypeAdifWeb    URLType = 0 // rendered station page with a departures table
	URLTypeAdifJSInfo URLType = 1 // script-driven page embedding the info board in an iframe
)

func (t URLType) String() string {
	switch t {
	case URLTypeAdifWeb:
		return "ADIF_WEB"
	case URLTypeAdifJSInfo:
		return "ADIF_JS_INFO"
	default:
		return fmt.Sprintf("URLType(%d)", int(t))
	}
}

// ParseURLType maps a category name to its URLType
func ParseURLType(s string) (URLType, error) {
	switch s {
	case "ADIF_WEB":
		return URLTypeAdifWeb, nil
	case "ADIF_JS_INFO":
		return URLTypeAdifJSInfo, nil
	default:
		return 0, fmt.Errorf("unknown url_type %q", s)
	}
}

// MarshalJSON writes the category name, not the numeric code
func (t URLType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts the category name
func (t *URLType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseURLType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// URLScrap one page to visit for a stop
type URLScrap struct {
	URLID   int64   `json:"-"`              // assigned by the store
	URL     string  `json:"url"`            // unique page address
	URLType URLType `json:"url_type"`       // wait behavior category
	StopID  *string `json:"stop,omitempty"` // stop the page belongs to
}

// Validate checks the URL is present and parseable
func (u *URLScrap) Validate() error {
	if u.URL == "" {
		return fmt.Errorf("url must not be empty")
	}
	parsed, err := url.Parse(u.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", u.URL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", u.URL)
	}
	if u.URLType != URLTypeAdifWeb && u.URLType != URLTypeAdifJSInfo {
		return fmt.Errorf("url_type must be ADIF_WEB or ADIF_JS_INFO, got %d", int(u.URLType))
	}
	return nil
}

// DecodeSeedURLs reads a JSON array of URL records, the format of the
// urls_*.json seed files.
func DecodeSeedURLs(r io.Reader) ([]URLScrap, error) {
	var urls []URLScrap
	if err := json.NewDecoder(r).Decode(&urls); err != nil {
		return nil, fmt.Errorf("decode seed urls: %w", err)
	}
	for i := range urls {
		if err := urls[i].Validate(); err != nil {
			return nil, fmt.Errorf("seed url %d: %w", i, err)
		}
	}
	return urls, nil
}
