package generator

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"

	"bustime/internal/model"
	"bustime/internal/storage"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestGenerateExampleTitleAndSlug(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.services = []model.Service{{ID: "s1", Name: "6001", Category: "bus"}}
	store.locations = []model.Location{{ID: "l1", Name: "강남", Population: 560000}}
	store.actions = []model.Action{{ID: "a1", Verb: "시간표"}}

	g := New(store, Config{}, quietLogger())
	n, err := g.Generate(context.Background(), 10)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 combination, got %d", n)
	}
	got := store.inserted[0]
	if got.GeneratedTitle != "강남 6001 시간표" || got.GeneratedSlug != "강남-6001-시간표" {
		t.Fatalf("unexpected title/slug: %q %q", got.GeneratedTitle, got.GeneratedSlug)
	}
	if got.SearchVolume != 560 || got.Status != model.CombinationPending || got.Competition != "low" {
		t.Fatalf("unexpected combination: %+v", got)
	}
}

func TestGenerateRespectsLimitAndSkipsMalformed(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.services = []model.Service{{ID: "s1", Name: "272"}, {ID: "s2", Name: "6001"}}
	store.locations = []model.Location{{ID: "l1", Name: "강남", Population: 3000}, {ID: "l2", Name: " "}, {ID: "l3", Name: "역삼", Population: 1000}}
	store.actions = []model.Action{{ID: "a1", Verb: "시간표"}, {ID: "a2", Verb: ""}, {ID: "a3", Verb: "노선도"}}

	g := New(store, Config{}, quietLogger())
	n, err := g.Generate(context.Background(), 3)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected limit of 3, got %d", n)
	}
	for _, c := range store.inserted {
		if c.LocationID == "l2" || c.ActionID == "a2" {
			t.Fatalf("malformed record used: %+v", c)
		}
	}
	if store.inserted[0].ServiceID != "s1" || store.inserted[2].LocationID != "l3" {
		t.Fatalf("expected nested service/location/action order, got %+v", store.inserted)
	}
}

func TestGenerateSeasonPass(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.services = []model.Service{{ID: "s1", Name: "272"}}
	store.locations = []model.Location{{ID: "l1", Name: "강남", Population: 30000}}
	store.actions = []model.Action{{ID: "a1", Verb: "시간표"}, {ID: "a2", Verb: "노선도"}}
	store.seasons = []model.Season{{ID: "w1", Name: "겨울"}}

	g := New(store, Config{SeasonBaseCap: 1}, quietLogger())
	n, err := g.Generate(context.Background(), 10)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 2 base + 1 season combination, got %d", n)
	}
	season := store.inserted[2]
	if season.SeasonID == nil || *season.SeasonID != "w1" {
		t.Fatalf("expected season id on last combination: %+v", season)
	}
	if season.GeneratedTitle != "겨울 강남 272 시간표" || season.SearchVolume != 20 {
		t.Fatalf("unexpected season combination: %+v", season)
	}
}

func TestGenerateIsIdempotentOnRealStore(t *testing.T) {
	t.Parallel()

	store, err := storage.NewStore(storage.Config{Path: filepath.Join(t.TempDir(), "gen.db")})
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	number := "6001"
	if _, err := store.UpsertServices(ctx, []model.Service{{Name: "6001", Category: "bus", ServiceNumber: &number, IsActive: true}}); err != nil {
		t.Fatalf("UpsertServices error: %v", err)
	}
	if _, err := store.Seed(ctx, storage.SeedData{
		Locations: []model.Location{{Name: "강남", Population: 500000, IsActive: true}, {Name: "역삼", Population: 200000, IsActive: true}},
		Actions:   []model.Action{{Verb: "시간표", Priority: 2}, {Verb: "노선도", Priority: 1}},
		Seasons:   []model.Season{{Name: "여름", IsActive: true}},
	}); err != nil {
		t.Fatalf("Seed error: %v", err)
	}

	g := New(store, Config{}, quietLogger())
	first, err := g.Generate(ctx, 50)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if first != 8 {
		t.Fatalf("expected 4 base + 4 season combinations, got %d", first)
	}
	second, err := g.Generate(ctx, 50)
	if err != nil {
		t.Fatalf("second Generate error: %v", err)
	}
	if second != 0 {
		t.Fatalf("expected no new combinations on rerun, got %d", second)
	}
	exists, err := store.CombinationSlugExists(ctx, "강남-6001-시간표")
	if err != nil || !exists {
		t.Fatalf("expected example slug to exist: %v %v", exists, err)
	}
}

func TestGeneratePropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.listErr = errors.New("db down")
	g := New(store, Config{}, quietLogger())
	if _, err := g.Generate(context.Background(), 5); err == nil {
		t.Fatalf("expected error")
	}
}

// --- stubs ---

type memStore struct {
	services  []model.Service
	locations []model.Location
	actions   []model.Action
	seasons   []model.Season
	slugs     map[string]struct{}
	inserted  []model.Combination
	listErr   error
}

func newMemStore() *memStore {
	return &memStore{slugs: make(map[string]struct{})}
}

func (m *memStore) ListActiveServices(ctx context.Context, limit int) ([]model.Service, error) {
	return m.services, m.listErr
}

func (m *memStore) ListLocations(ctx context.Context, limit int) ([]model.Location, error) {
	return m.locations, nil
}

func (m *memStore) ListActions(ctx context.Context, limit int) ([]model.Action, error) {
	return m.actions, nil
}

func (m *memStore) ListSeasons(ctx context.Context, limit int) ([]model.Season, error) {
	return m.seasons, nil
}

func (m *memStore) CombinationSlugExists(ctx context.Context, slug string) (bool, error) {
	_, ok := m.slugs[slug]
	return ok, nil
}

func (m *memStore) InsertCombinations(ctx context.Context, combos []model.Combination) (int, error) {
	n := 0
	for _, c := range combos {
		if _, ok := m.slugs[c.GeneratedSlug]; ok {
			continue
		}
		m.slugs[c.GeneratedSlug] = struct{}{}
		m.inserted = append(m.inserted, c)
		n++
	}
	return n, nil
}
