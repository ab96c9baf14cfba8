package source

import (
	"net/url"
	"strings"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	reg := Default()
	src, ok := reg.Get(SeoulBusRoute)
	if !ok {
		t.Fatalf("expected %s in default catalog", SeoulBusRoute)
	}
	if src.Format != "xml" || !strings.Contains(src.Endpoint, "getBusRouteList") {
		t.Fatalf("unexpected seoul source: %+v", src)
	}
	if got := len(reg.All()); got != 17 {
		t.Fatalf("expected 17 sources, got %d", got)
	}
	if got := len(reg.ByCategory(CategoryAirportBus)); got != 2 {
		t.Fatalf("expected 2 airport sources, got %d", got)
	}
	if got := len(reg.ByRegion("인천광역시")); got != 2 {
		t.Fatalf("expected 2 incheon sources, got %d", got)
	}
	if regions := reg.Regions(); len(regions) == 0 || regions[0] > regions[len(regions)-1] {
		t.Fatalf("expected sorted regions, got %v", regions)
	}
}

func TestLoadRejectsInvalidCatalog(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing endpoint": "sources:\n  - key: a\n    format: xml\n",
		"bad format":       "sources:\n  - key: a\n    endpoint: http://x.test/a\n    format: csv\n",
		"duplicate key":    "sources:\n  - key: a\n    endpoint: http://x.test/a\n    format: xml\n  - key: a\n    endpoint: http://x.test/b\n    format: json\n",
		"missing key":      "sources:\n  - endpoint: http://x.test/a\n    format: xml\n",
	}
	for name, body := range cases {
		if _, err := Load([]byte(body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDisabledSourcesAreFiltered(t *testing.T) {
	t.Parallel()

	reg, err := Load([]byte(`
sources:
  - key: live
    category: city_bus
    region: 서울
    endpoint: http://x.test/live
    format: xml
    enabled: true
  - key: paused
    category: city_bus
    region: 서울
    endpoint: http://x.test/paused
    format: json
    enabled: false
`))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := reg.Enabled(); len(got) != 1 || got[0].Key != "live" {
		t.Fatalf("unexpected enabled sources: %+v", got)
	}
	if _, ok := reg.Get("paused"); !ok {
		t.Fatalf("disabled sources must still be retrievable by key")
	}
}

func TestBuildURLAndMask(t *testing.T) {
	t.Parallel()

	src := Source{Key: "k", Endpoint: "http://x.test/api", Format: "xml", DefaultParams: map[string]string{"numOfRows": "100"}}
	raw, err := src.BuildURL("se+cret", map[string]string{"strSrch": "272"})
	if err != nil {
		t.Fatalf("BuildURL error: %v", err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	if q.Get("serviceKey") != "se+cret" || q.Get("numOfRows") != "100" || q.Get("strSrch") != "272" {
		t.Fatalf("unexpected query: %v", q)
	}
	if masked := MaskKey(raw, "se+cret"); strings.Contains(masked, "cret") {
		t.Fatalf("expected key masked, got %s", masked)
	}
}
