package main

import (
	"errors"
	"fmt"
	"net/url"
	"path"

	"github.com/adiftools/stopscrap/internal/gtfs"
	"github.com/adiftools/stopscrap/internal/utils"
)

// ValidateFeedURL checks the static feed URL before a download starts
func ValidateFeedURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("a feed URL is required (--url or gtfs.url)")
	}
	if err := utils.ValidateURL(rawURL); err != nil {
		return fmt.Errorf("invalid feed URL: %w", err)
	}
	return nil
}

// ValidateRealtimeFlags checks the realtime URL and snapshot format
func ValidateRealtimeFlags(rawURL, format string) error {
	if rawURL == "" {
		return errors.New("a realtime URL is required (--url or realtime.url)")
	}
	if err := utils.ValidateURL(rawURL); err != nil {
		return fmt.Errorf("invalid realtime URL: %w", err)
	}
	if format != gtfs.FormatJSON && format != gtfs.FormatProtobuf {
		return fmt.Errorf("invalid format %q (valid: json, pb)", format)
	}
	return nil
}

// feedBasename names the local file after the last URL path segment
func feedBasename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "gtfs.zip"
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return "gtfs.zip"
	}
	return base
}
