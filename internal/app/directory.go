package app

import (
	"fmt"
	"strings"

	"storerate/pkg/domain"
)

// AccountQuery is the admin account listing request as received from the
// client. Unknown sort columns fall back to name ascending.
type AccountQuery struct {
	Name    string
	Email   string
	Address string
	Role    string
	SortBy  string
	Order   string
}

// StoreQuery is the store listing request.
type StoreQuery struct {
	Name    string
	Address string
	SortBy  string
	Order   string
}

func descending(order string) bool {
	return strings.EqualFold(strings.TrimSpace(order), "desc")
}

// ListAccounts returns accounts matching q. A role that names no known role
// matches nothing.
func (a *App) ListAccounts(q AccountQuery) ([]domain.AccountSummary, error) {
	filter := domain.AccountFilter{
		Name:    strings.TrimSpace(q.Name),
		Email:   strings.TrimSpace(q.Email),
		Address: strings.TrimSpace(q.Address),
		SortBy:  strings.TrimSpace(q.SortBy),
		Desc:    descending(q.Order),
	}
	if strings.TrimSpace(q.Role) != "" {
		role, ok := domain.ParseRole(q.Role)
		if !ok {
			return []domain.AccountSummary{}, nil
		}
		filter.Role = role
	}
	accounts, err := a.store.ListAccounts(filter)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]domain.AccountSummary, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, acc.Summary())
	}
	return out, nil
}

func (q StoreQuery) filter() domain.StoreFilter {
	return domain.StoreFilter{
		Name:    strings.TrimSpace(q.Name),
		Address: strings.TrimSpace(q.Address),
		SortBy:  strings.TrimSpace(q.SortBy),
		Desc:    descending(q.Order),
	}
}

// ListStores returns stores matching q with their current average and the
// score p gave each of them.
func (a *App) ListStores(p domain.Principal, q StoreQuery) ([]domain.StoreView, error) {
	stores, err := a.store.ListStores(q.filter())
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	ids := storeIDs(stores)
	sums, err := a.store.RatingSummaries(ids)
	if err != nil {
		return nil, fmt.Errorf("summarize ratings: %w", err)
	}
	mine, err := a.store.AccountScores(p.ID, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch own ratings: %w", err)
	}
	out := make([]domain.StoreView, 0, len(stores))
	for _, st := range stores {
		avg := roundedAverage(sums[st.ID].Sum, sums[st.ID].Count)
		view := domain.StoreView{
			ID:            st.ID,
			Name:          st.Name,
			Email:         st.Email,
			Address:       st.Address,
			OverallRating: avg,
			AverageRating: avg,
		}
		if score, ok := mine[st.ID]; ok {
			view.MyRating = &score
		}
		out = append(out, view)
	}
	return out, nil
}

// AdminStores lists stores with their owner's name and every rating filed
// for them.
func (a *App) AdminStores(q StoreQuery) ([]domain.AdminStoreView, error) {
	stores, err := a.store.ListStores(q.filter())
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	ids := storeIDs(stores)
	sums, err := a.store.RatingSummaries(ids)
	if err != nil {
		return nil, fmt.Errorf("summarize ratings: %w", err)
	}
	raters, err := a.store.ListRaters(ids)
	if err != nil {
		return nil, fmt.Errorf("list raters: %w", err)
	}
	owners, err := a.store.ListAccounts(domain.AccountFilter{Role: domain.RoleOwner})
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	ownerNames := make(map[string]string, len(owners))
	for _, o := range owners {
		ownerNames[o.ID] = o.Name
	}
	byStore := make(map[string][]domain.StoreRatingEntry, len(stores))
	for _, r := range raters {
		byStore[r.StoreID] = append(byStore[r.StoreID], domain.StoreRatingEntry{ID: r.RatingID, Score: r.Score, UserName: r.Name})
	}

	out := make([]domain.AdminStoreView, 0, len(stores))
	for _, st := range stores {
		ownerName := "N/A"
		if name, ok := ownerNames[st.OwnerID]; ok {
			ownerName = name
		}
		entries := byStore[st.ID]
		if entries == nil {
			entries = []domain.StoreRatingEntry{}
		}
		out = append(out, domain.AdminStoreView{
			ID:        st.ID,
			Name:      st.Name,
			Email:     st.Email,
			Address:   st.Address,
			OwnerID:   st.OwnerID,
			OwnerName: ownerName,
			Rating:    roundedAverage(sums[st.ID].Sum, sums[st.ID].Count),
			Ratings:   entries,
		})
	}
	return out, nil
}

func storeIDs(stores []domain.Store) []string {
	ids := make([]string, 0, len(stores))
	for _, st := range stores {
		ids = append(ids, st.ID)
	}
	return ids
}
