package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"storerate/pkg/domain"
)

func seedMemory(t *testing.T) *MemoryStore {
	t.Helper()
	m := NewMemoryStore()
	accounts := []domain.Account{
		{ID: "admin", Name: "Administrator Account Of The System", Email: "admin@roxiler.com", Address: "Admin Block, Pune", Role: domain.RoleAdmin},
		{ID: "owner", Name: "Primary Store Owner Of Blue Mart", Email: "owner@shop.com", Address: "MG Road, Pune", Role: domain.RoleOwner},
		{ID: "alice", Name: "Alice Example Rating Customer", Email: "alice@example.com", Address: "Baner, Pune", Role: domain.RoleUser},
		{ID: "bob", Name: "Bob Example Rating Customer", Email: "bob@example.com", Address: "Kothrud, Pune", Role: domain.RoleUser},
	}
	for _, a := range accounts {
		if err := m.CreateAccount(a); err != nil {
			t.Fatalf("create account %s: %v", a.ID, err)
		}
	}
	stores := []domain.Store{
		{ID: "blue", Name: "Blue Mart", Email: "blue@mart.com", Address: "City Center, Pune", OwnerID: "owner"},
		{ID: "green", Name: "Green Grocers", Email: "green@shop.com", Address: "Aundh, Pune"},
	}
	for _, st := range stores {
		if err := m.CreateStore(st); err != nil {
			t.Fatalf("create store %s: %v", st.ID, err)
		}
	}
	return m
}

func rate(t *testing.T, m *MemoryStore, id, accountID, storeID string, score int) domain.Rating {
	t.Helper()
	now := time.Now().UTC()
	r, err := m.UpsertRating(domain.Rating{ID: id, AccountID: accountID, StoreID: storeID, Score: score, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatalf("upsert rating %s: %v", id, err)
	}
	return r
}

func TestMemoryStoreDuplicateEmail(t *testing.T) {
	m := seedMemory(t)
	err := m.CreateAccount(domain.Account{ID: "dup", Name: "Another Alice Example Account", Email: "alice@example.com", Role: domain.RoleUser})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected duplicate account email, got %v", err)
	}
	err = m.CreateStore(domain.Store{ID: "dup", Name: "Blue Mart Two", Email: "blue@mart.com"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected duplicate store email, got %v", err)
	}
	if err := m.CreateStore(domain.Store{ID: "orphan", Name: "Orphan Store", Email: "o@shop.com", OwnerID: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected missing owner error, got %v", err)
	}
}

func TestMemoryStoreUpsertKeepsOneRowPerPair(t *testing.T) {
	m := seedMemory(t)
	first := rate(t, m, "r1", "alice", "blue", 4)
	second := rate(t, m, "r2", "alice", "blue", 2)
	if second.ID != first.ID {
		t.Fatalf("expected upsert to keep rating id %q, got %q", first.ID, second.ID)
	}
	if second.Score != 2 {
		t.Fatalf("expected updated score, got %d", second.Score)
	}
	if n, _ := m.RatingCount(); n != 1 {
		t.Fatalf("expected one rating row, got %d", n)
	}
	if _, err := m.UpsertRating(domain.Rating{ID: "r3", AccountID: "alice", StoreID: "missing", Score: 3}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for missing store, got %v", err)
	}
}

func TestMemoryStoreConcurrentUpsertSamePair(t *testing.T) {
	m := seedMemory(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = m.UpsertRating(domain.Rating{ID: "r" + string(rune('a'+i)), AccountID: "bob", StoreID: "green", Score: i%5 + 1})
		}(i)
	}
	wg.Wait()
	if n, _ := m.RatingCount(); n != 1 {
		t.Fatalf("expected one rating row after concurrent upserts, got %d", n)
	}
}

func TestMemoryStoreSummariesAndScores(t *testing.T) {
	m := seedMemory(t)
	rate(t, m, "r1", "alice", "blue", 4)
	rate(t, m, "r2", "bob", "blue", 3)

	sums, err := m.RatingSummaries([]string{"blue", "green"})
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if sums["blue"].Sum != 7 || sums["blue"].Count != 2 {
		t.Fatalf("unexpected blue summary: %+v", sums["blue"])
	}
	if _, ok := sums["green"]; ok {
		t.Fatalf("expected green to have no summary")
	}

	scores, _ := m.AccountScores("alice", []string{"blue", "green"})
	if len(scores) != 1 || scores["blue"] != 4 {
		t.Fatalf("unexpected scores: %v", scores)
	}

	raters, _ := m.ListRaters([]string{"blue"})
	if len(raters) != 2 {
		t.Fatalf("expected two raters, got %d", len(raters))
	}
	for _, r := range raters {
		if r.Email == "" || r.Name == "" {
			t.Fatalf("expected rater identity, got %+v", r)
		}
	}
}

func TestMemoryStoreListFilterAndSort(t *testing.T) {
	m := seedMemory(t)
	got, err := m.ListAccounts(domain.AccountFilter{Address: "pune", Role: domain.RoleUser, SortBy: "email", Desc: true})
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(got) != 2 || got[0].ID != "bob" || got[1].ID != "alice" {
		t.Fatalf("unexpected account order: %+v", got)
	}

	stores, _ := m.ListStores(domain.StoreFilter{SortBy: "bogus", Desc: true})
	if len(stores) != 2 || stores[0].Name != "Blue Mart" {
		t.Fatalf("expected fallback to name ascending, got %+v", stores)
	}
	stores, _ = m.ListStores(domain.StoreFilter{Name: "GREEN"})
	if len(stores) != 1 || stores[0].ID != "green" {
		t.Fatalf("expected case-insensitive name match, got %+v", stores)
	}
}

func TestMemoryStoreSortIgnoresCase(t *testing.T) {
	m := NewMemoryStore()
	for _, st := range []domain.Store{
		{ID: "s1", Name: "Zed Corner", Email: "zed@shop.com", Address: "Pune"},
		{ID: "s2", Name: "alpha Bazaar", Email: "alpha@shop.com", Address: "Pune"},
		{ID: "s3", Name: "Alpha Bazaar", Email: "alpha2@shop.com", Address: "Pune"},
		{ID: "s4", Name: "beta Mart", Email: "beta@shop.com", Address: "Pune"},
	} {
		if err := m.CreateStore(st); err != nil {
			t.Fatalf("create store %s: %v", st.ID, err)
		}
	}
	stores, err := m.ListStores(domain.StoreFilter{SortBy: "name"})
	if err != nil {
		t.Fatalf("list stores: %v", err)
	}
	want := []string{"s3", "s2", "s4", "s1"}
	for i, id := range want {
		if stores[i].ID != id {
			t.Fatalf("position %d: expected %s, got %+v", i, id, stores)
		}
	}
	stores, _ = m.ListStores(domain.StoreFilter{SortBy: "name", Desc: true})
	if stores[0].ID != "s1" || stores[3].ID != "s3" {
		t.Fatalf("unexpected descending order: %+v", stores)
	}
}

func TestMemoryStoreDeleteOwnerCascades(t *testing.T) {
	m := seedMemory(t)
	rate(t, m, "r1", "alice", "blue", 4)
	rate(t, m, "r2", "owner", "green", 5)
	rate(t, m, "r3", "bob", "green", 1)

	res, err := m.DeleteAccount("owner")
	if err != nil {
		t.Fatalf("delete owner: %v", err)
	}
	if len(res.StoreIDs) != 1 || res.StoreIDs[0] != "blue" {
		t.Fatalf("unexpected store ids: %v", res.StoreIDs)
	}
	if len(res.RatingIDs) != 2 || res.RatingIDs[0] != "r1" || res.RatingIDs[1] != "r2" {
		t.Fatalf("unexpected rating ids: %v", res.RatingIDs)
	}
	if _, ok, _ := m.GetStore("blue"); ok {
		t.Fatalf("expected owned store removed")
	}
	if n, _ := m.RatingCount(); n != 1 {
		t.Fatalf("expected only bob's rating left, got %d", n)
	}
	if exists, _ := m.HasAccountEmail("owner@shop.com"); exists {
		t.Fatalf("expected email released")
	}
}

func TestMemoryStoreDeleteAdminRejected(t *testing.T) {
	m := seedMemory(t)
	if _, err := m.DeleteAccount("admin"); !errors.Is(err, ErrProtectedAccount) {
		t.Fatalf("expected protected account, got %v", err)
	}
	if _, err := m.DeleteAccount("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreDeleteStoreCascades(t *testing.T) {
	m := seedMemory(t)
	rate(t, m, "r1", "alice", "green", 4)
	rate(t, m, "r2", "alice", "blue", 4)

	res, err := m.DeleteStore("green")
	if err != nil {
		t.Fatalf("delete store: %v", err)
	}
	if len(res.RatingIDs) != 1 || res.RatingIDs[0] != "r1" {
		t.Fatalf("unexpected rating ids: %v", res.RatingIDs)
	}
	if _, ok, _ := m.GetRating("alice", "green"); ok {
		t.Fatalf("expected rating pair released")
	}
	if _, ok, _ := m.GetRating("alice", "blue"); !ok {
		t.Fatalf("expected unrelated rating kept")
	}
}
