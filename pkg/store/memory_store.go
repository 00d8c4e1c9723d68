package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"storerate/pkg/domain"
)

// MemoryStore keeps accounts, stores, and ratings in-process. One mutex
// guards all maps so cascades and upserts are atomic within the process.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account // key: account ID
	emails   map[string]string         // account email -> account ID
	stores   map[string]domain.Store   // key: store ID
	ratings  map[string]domain.Rating  // key: rating ID
	pairs    map[string]string         // account|store -> rating ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]domain.Account),
		emails:   make(map[string]string),
		stores:   make(map[string]domain.Store),
		ratings:  make(map[string]domain.Rating),
		pairs:    make(map[string]string),
	}
}

func pairKey(accountID, storeID string) string {
	return accountID + "|" + storeID
}

// CreateAccount inserts a new account.
func (m *MemoryStore) CreateAccount(a domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.emails[a.Email]; exists {
		return ErrDuplicateEmail
	}
	m.accounts[a.ID] = a
	m.emails[a.Email] = a.ID
	return nil
}

// SetPasswordHash replaces the stored credential hash.
func (m *MemoryStore) SetPasswordHash(accountID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = hash
	a.UpdatedAt = time.Now().UTC()
	m.accounts[accountID] = a
	return nil
}

// HasAccountEmail checks if email exists.
func (m *MemoryStore) HasAccountEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.emails[email]
	return ok, nil
}

// GetAccountByEmail looks up an account by email.
func (m *MemoryStore) GetAccountByEmail(email string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[email]
	if !ok {
		return domain.Account{}, false, nil
	}
	a, ok := m.accounts[id]
	return a, ok, nil
}

// GetAccountByID returns an account by ID.
func (m *MemoryStore) GetAccountByID(id string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	return a, ok, nil
}

// ListAccounts returns accounts matching f in the requested order.
func (m *MemoryStore) ListAccounts(f domain.AccountFilter) ([]domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		if !containsFold(a.Name, f.Name) || !containsFold(a.Email, f.Email) || !containsFold(a.Address, f.Address) {
			continue
		}
		if f.Role != "" && a.Role != f.Role {
			continue
		}
		res = append(res, a)
	}
	column, desc := sortKey(accountSortColumns, f.SortBy, f.Desc)
	key := func(a domain.Account) string {
		switch column {
		case "email":
			return a.Email
		case "address":
			return a.Address
		case "role":
			return string(a.Role)
		default:
			return a.Name
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return lessBy(key(res[i]), key(res[j]), res[i].ID, res[j].ID, desc)
	})
	return res, nil
}

// AccountCount returns number of accounts.
func (m *MemoryStore) AccountCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts), nil
}

// DeleteAccount removes an account with its ratings and owned stores.
func (m *MemoryStore) DeleteAccount(id string) (domain.CascadeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return domain.CascadeResult{}, ErrNotFound
	}
	if a.Role == domain.RoleAdmin {
		return domain.CascadeResult{}, ErrProtectedAccount
	}
	owned := make(map[string]struct{})
	storeIDs := make([]string, 0)
	for sid, st := range m.stores {
		if st.OwnerID == id {
			owned[sid] = struct{}{}
			storeIDs = append(storeIDs, sid)
		}
	}
	sort.Strings(storeIDs)
	ratingIDs := make([]string, 0)
	for rid, r := range m.ratings {
		_, ownedStore := owned[r.StoreID]
		if r.AccountID == id || ownedStore {
			ratingIDs = append(ratingIDs, rid)
		}
	}
	sort.Strings(ratingIDs)
	for _, rid := range ratingIDs {
		m.deleteRatingLocked(rid)
	}
	for _, sid := range storeIDs {
		delete(m.stores, sid)
	}
	delete(m.emails, a.Email)
	delete(m.accounts, id)
	return domain.CascadeResult{
		AccountIDs: []string{id},
		StoreIDs:   storeIDs,
		RatingIDs:  ratingIDs,
	}, nil
}

// CreateStore inserts a new store.
func (m *MemoryStore) CreateStore(st domain.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.stores {
		if existing.Email == st.Email {
			return ErrDuplicateEmail
		}
	}
	if st.OwnerID != "" {
		if _, ok := m.accounts[st.OwnerID]; !ok {
			return ErrNotFound
		}
	}
	m.stores[st.ID] = st
	return nil
}

// HasStoreEmail checks if a store email exists.
func (m *MemoryStore) HasStoreEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, st := range m.stores {
		if st.Email == email {
			return true, nil
		}
	}
	return false, nil
}

// GetStore retrieves a store.
func (m *MemoryStore) GetStore(id string) (domain.Store, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stores[id]
	return st, ok, nil
}

// ListStores returns stores matching f in the requested order.
func (m *MemoryStore) ListStores(f domain.StoreFilter) ([]domain.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Store, 0, len(m.stores))
	for _, st := range m.stores {
		if !containsFold(st.Name, f.Name) || !containsFold(st.Address, f.Address) {
			continue
		}
		if f.OwnerID != "" && st.OwnerID != f.OwnerID {
			continue
		}
		res = append(res, st)
	}
	column, desc := sortKey(storeSortColumns, f.SortBy, f.Desc)
	key := func(st domain.Store) string {
		switch column {
		case "email":
			return st.Email
		case "address":
			return st.Address
		default:
			return st.Name
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return lessBy(key(res[i]), key(res[j]), res[i].ID, res[j].ID, desc)
	})
	return res, nil
}

// StoreCount returns number of stores.
func (m *MemoryStore) StoreCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stores), nil
}

// DeleteStore removes a store and its ratings.
func (m *MemoryStore) DeleteStore(id string) (domain.CascadeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stores[id]; !ok {
		return domain.CascadeResult{}, ErrNotFound
	}
	ratingIDs := make([]string, 0)
	for rid, r := range m.ratings {
		if r.StoreID == id {
			ratingIDs = append(ratingIDs, rid)
		}
	}
	sort.Strings(ratingIDs)
	for _, rid := range ratingIDs {
		m.deleteRatingLocked(rid)
	}
	delete(m.stores, id)
	return domain.CascadeResult{StoreIDs: []string{id}, RatingIDs: ratingIDs}, nil
}

// UpsertRating inserts a rating or overwrites the score of the existing
// (account, store) row.
func (m *MemoryStore) UpsertRating(r domain.Rating) (domain.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stores[r.StoreID]; !ok {
		return domain.Rating{}, ErrNotFound
	}
	if _, ok := m.accounts[r.AccountID]; !ok {
		return domain.Rating{}, ErrNotFound
	}
	key := pairKey(r.AccountID, r.StoreID)
	if rid, ok := m.pairs[key]; ok {
		existing := m.ratings[rid]
		existing.Score = r.Score
		existing.UpdatedAt = r.UpdatedAt
		m.ratings[rid] = existing
		return existing, nil
	}
	m.ratings[r.ID] = r
	m.pairs[key] = r.ID
	return r, nil
}

// GetRating returns the rating filed by accountID for storeID.
func (m *MemoryStore) GetRating(accountID, storeID string) (domain.Rating, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rid, ok := m.pairs[pairKey(accountID, storeID)]
	if !ok {
		return domain.Rating{}, false, nil
	}
	r, ok := m.ratings[rid]
	return r, ok, nil
}

// RatingCount returns number of ratings.
func (m *MemoryStore) RatingCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ratings), nil
}

// RatingSummaries returns score sums and counts keyed by store ID.
func (m *MemoryStore) RatingSummaries(storeIDs []string) (map[string]domain.RatingSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := toSet(storeIDs)
	out := make(map[string]domain.RatingSummary, len(storeIDs))
	for _, r := range m.ratings {
		if _, ok := wanted[r.StoreID]; !ok {
			continue
		}
		sum := out[r.StoreID]
		sum.StoreID = r.StoreID
		sum.Sum += r.Score
		sum.Count++
		out[r.StoreID] = sum
	}
	return out, nil
}

// AccountScores returns the scores accountID filed, keyed by store ID.
func (m *MemoryStore) AccountScores(accountID string, storeIDs []string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int)
	for _, sid := range storeIDs {
		if rid, ok := m.pairs[pairKey(accountID, sid)]; ok {
			out[sid] = m.ratings[rid].Score
		}
	}
	return out, nil
}

// ListRaters returns the ratings of the given stores joined with their raters.
func (m *MemoryStore) ListRaters(storeIDs []string) ([]domain.Rater, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := toSet(storeIDs)
	matched := make([]domain.Rating, 0)
	for _, r := range m.ratings {
		if _, ok := wanted[r.StoreID]; ok {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	out := make([]domain.Rater, 0, len(matched))
	for _, r := range matched {
		a := m.accounts[r.AccountID]
		out = append(out, domain.Rater{
			RatingID:  r.ID,
			StoreID:   r.StoreID,
			AccountID: r.AccountID,
			Name:      a.Name,
			Email:     a.Email,
			Score:     r.Score,
		})
	}
	return out, nil
}

func (m *MemoryStore) deleteRatingLocked(id string) {
	r, ok := m.ratings[id]
	if !ok {
		return
	}
	delete(m.pairs, pairKey(r.AccountID, r.StoreID))
	delete(m.ratings, id)
}

func containsFold(value, needle string) bool {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(needle))
}

func sortKey(columns map[string]string, sortBy string, desc bool) (string, bool) {
	column, ok := columns[strings.ToLower(strings.TrimSpace(sortBy))]
	if !ok {
		return "name", false
	}
	return column, desc
}

// lessBy orders case-insensitively, then by raw key, then by id.
func lessBy(a, b, idA, idB string, desc bool) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la == lb {
		if a == b {
			return idA < idB
		}
		la, lb = a, b
	}
	if desc {
		return la > lb
	}
	return la < lb
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
