package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLocationType(t *testing.T) {
	tests := []struct {
		name  string
		field string
		want  *LocationType
	}{
		{"blank field", "", nil},
		{"stop or platform", "0", ptrLocation(LocationStopOrPlatform)},
		{"station", "1", ptrLocation(LocationStation)},
		{"boarding area", "4", ptrLocation(LocationBoardingArea)},
		{"out of range", "7", nil},
		{"not a number", "abc", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLocationType(tt.field)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("ParseLocationType(%q) = %v, want %v", tt.field, got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("ParseLocationType(%q) = %v, want %v", tt.field, *got, *tt.want)
			}
		})
	}
}

func TestLocationTypeString(t *testing.T) {
	if got := LocationStation.String(); got != "STATION" {
		t.Errorf("String() = %q, want %q", got, "STATION")
	}
	if got := LocationType(9).String(); got != "LocationType(9)" {
		t.Errorf("String() = %q, want %q", got, "LocationType(9)")
	}
}

func TestParseWheelchairBoarding(t *testing.T) {
	tests := []struct {
		name  string
		field string
		want  *WheelchairBoarding
	}{
		{"blank field", "", nil},
		{"no information", "0", ptrWheelchair(WheelchairNoInformation)},
		{"some yes", "1", ptrWheelchair(WheelchairSomeYes)},
		{"out of range", "3", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseWheelchairBoarding(tt.field)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("ParseWheelchairBoarding(%q) = %v, want %v", tt.field, got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("ParseWheelchairBoarding(%q) = %v, want %v", tt.field, *got, *tt.want)
			}
		})
	}
}

func TestStop_Validate(t *testing.T) {
	lat := 41.379
	lon := 2.140
	badLat := 95.0
	tests := []struct {
		name    string
		stop    Stop
		wantErr bool
	}{
		{"minimal valid stop", Stop{StopID: "71801"}, false},
		{"full valid stop", Stop{StopID: "79100", StopLat: &lat, StopLon: &lon}, false},
		{"missing stop id", Stop{}, true},
		{"latitude out of range", Stop{StopID: "71801", StopLat: &badLat}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.stop.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLevel_Validate(t *testing.T) {
	name := "Andanes"
	tests := []struct {
		name    string
		level   Level
		wantErr bool
	}{
		{"valid level", Level{LevelID: "L1", LevelIndex: -1, LevelName: &name}, false},
		{"missing level id", Level{LevelIndex: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.level.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseURLType(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		want    URLType
		wantErr bool
	}{
		{"web page", "ADIF_WEB", URLTypeAdifWeb, false},
		{"embedded info page", "ADIF_JS_INFO", URLTypeAdifJSInfo, false},
		{"unknown category", "ADIF_APP", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURLType(tt.field)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURLType() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseURLType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestURLTypeJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(URLTypeAdifJSInfo)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `"ADIF_JS_INFO"` {
		t.Errorf("Marshal() = %s, want %q", data, `"ADIF_JS_INFO"`)
	}

	var parsed URLType
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if parsed != URLTypeAdifJSInfo {
		t.Errorf("Unmarshal() = %v, want %v", parsed, URLTypeAdifJSInfo)
	}
}

func TestURLScrap_Validate(t *testing.T) {
	stop := "71801"
	tests := []struct {
		name    string
		url     URLScrap
		wantErr bool
	}{
		{"valid web url", URLScrap{URL: "https://www.adif.es/w/71801-barcelona-sants", URLType: URLTypeAdifWeb, StopID: &stop}, false},
		{"valid js info url", URLScrap{URL: "https://www.adif.es/tralia/71801", URLType: URLTypeAdifJSInfo, StopID: &stop}, false},
		{"empty url", URLScrap{URLType: URLTypeAdifWeb}, true},
		{"ftp scheme", URLScrap{URL: "ftp://example.com", URLType: URLTypeAdifWeb}, true},
		{"bad category", URLScrap{URL: "https://www.adif.es", URLType: URLType(5)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.url.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeSeedURLs(t *testing.T) {
	seed := `[
		{"url_type": "ADIF_WEB", "url": "https://www.adif.es/w/71801-barcelona-sants", "stop": "71801"},
		{"url_type": "ADIF_JS_INFO", "url": "https://www.adif.es/w/79100-granollers-centre", "stop": "79100"}
	]`
	urls, err := DecodeSeedURLs(strings.NewReader(seed))
	if err != nil {
		t.Fatalf("DecodeSeedURLs() error = %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("DecodeSeedURLs() returned %d urls, want 2", len(urls))
	}
	if urls[0].URLType != URLTypeAdifWeb {
		t.Errorf("urls[0].URLType = %v, want %v", urls[0].URLType, URLTypeAdifWeb)
	}
	if urls[1].StopID == nil || *urls[1].StopID != "79100" {
		t.Errorf("urls[1].StopID = %v, want 79100", urls[1].StopID)
	}
}

func TestDecodeSeedURLsRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		seed string
	}{
		{"unknown category", `[{"url_type": "ADIF_APP", "url": "https://www.adif.es", "stop": "1"}]`},
		{"missing url", `[{"url_type": "ADIF_WEB", "stop": "1"}]`},
		{"not an array", `{"url_type": "ADIF_WEB"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeSeedURLs(strings.NewReader(tt.seed)); err == nil {
				t.Errorf("DecodeSeedURLs() expected error, got nil")
			}
		})
	}
}

func ptrLocation(l LocationType) *LocationType { return &l }

func ptrWheelchair(w WheelchairBoarding) *WheelchairBoarding { return &w }
