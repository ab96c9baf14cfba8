package collector

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"bustime/internal/model"
	"bustime/internal/storage"
	"bustime/internal/transit"
)

func TestCollectBatchesAndMapsRoutes(t *testing.T) {
	t.Parallel()

	routes := make([]transit.Route, 0, 7)
	for _, n := range []string{"272", "6001", "", "N26", "100", "7016", "02"} {
		routes = append(routes, transit.Route{Name: n, Type: "3", StartStation: "면목동", EndStation: "남대문", Term: "8"})
	}
	routes[1].Type = "6"
	routes[1].FirstBus = "04:30"

	store := &stubStore{}
	c := NewSeoulCollector(&stubSearcher{routes: routes}, store, Config{MaxRoutes: 6, BatchSize: 2}, log.New(io.Discard, "", 0))

	res, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if res.Fetched != 7 || res.Collected != 5 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(store.batches) != 3 || len(store.batches[0]) != 2 || len(store.batches[2]) != 1 {
		t.Fatalf("unexpected batching: %d batches", len(store.batches))
	}

	express := store.batches[0][1]
	if express.Name != "서울 6001번 버스" || express.Number() != "6001" || express.Category != "서울 버스" {
		t.Fatalf("unexpected service: %+v", express)
	}
	if express.Description != "면목동에서 남대문까지 운행하는 광역버스" {
		t.Fatalf("unexpected description: %s", express.Description)
	}
	if express.OperatingHours != "첫차 04:30 / 막차 23:30" {
		t.Fatalf("unexpected hours: %s", express.OperatingHours)
	}
	if !strings.Contains(express.LongDescription, "평균 8분") {
		t.Fatalf("expected interval in long description")
	}
	if !express.IsBusLike() {
		t.Fatalf("collected services must be bus-like")
	}
}

func TestCollectPropagatesSearchError(t *testing.T) {
	t.Parallel()

	c := NewSeoulCollector(&stubSearcher{err: transit.ErrSchemaMismatch}, &stubStore{}, Config{}, log.New(io.Discard, "", 0))
	if _, err := c.Collect(context.Background()); !errors.Is(err, transit.ErrSchemaMismatch) {
		t.Fatalf("expected schema error, got %v", err)
	}
}

// --- stubs ---

type stubSearcher struct {
	routes []transit.Route
	err    error
}

func (s *stubSearcher) SearchRoutes(ctx context.Context, query string) ([]transit.Route, error) {
	return s.routes, s.err
}

type stubStore struct {
	batches [][]model.Service
}

func (s *stubStore) UpsertServices(ctx context.Context, services []model.Service) (storage.UpsertResult, error) {
	cp := append([]model.Service(nil), services...)
	s.batches = append(s.batches, cp)
	return storage.UpsertResult{Created: len(services)}, nil
}
