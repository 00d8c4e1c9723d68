package app

import (
	"fmt"

	"golang.org/x/sync/errgroup"
	"storerate/pkg/domain"
)

// AdminDashboard counts accounts, stores and ratings.
func (a *App) AdminDashboard() (domain.Dashboard, error) {
	var d domain.Dashboard
	var g errgroup.Group
	g.Go(func() error {
		n, err := a.store.AccountCount()
		if err != nil {
			return fmt.Errorf("count accounts: %w", err)
		}
		d.TotalUsers = n
		return nil
	})
	g.Go(func() error {
		n, err := a.store.StoreCount()
		if err != nil {
			return fmt.Errorf("count stores: %w", err)
		}
		d.TotalStores = n
		return nil
	})
	g.Go(func() error {
		n, err := a.store.RatingCount()
		if err != nil {
			return fmt.Errorf("count ratings: %w", err)
		}
		d.TotalRatings = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.Dashboard{}, err
	}
	return d, nil
}

// OwnerDashboard lists the stores ownerID owns with their average and the
// accounts that rated them.
func (a *App) OwnerDashboard(ownerID string) ([]domain.OwnerStoreView, error) {
	stores, err := a.store.ListStores(domain.StoreFilter{OwnerID: ownerID})
	if err != nil {
		return nil, fmt.Errorf("list owned stores: %w", err)
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
	byStore := make(map[string][]domain.RaterView, len(stores))
	for _, r := range raters {
		byStore[r.StoreID] = append(byStore[r.StoreID], domain.RaterView{ID: r.AccountID, Name: r.Name, Email: r.Email, Score: r.Score})
	}
	out := make([]domain.OwnerStoreView, 0, len(stores))
	for _, st := range stores {
		rv := byStore[st.ID]
		if rv == nil {
			rv = []domain.RaterView{}
		}
		out = append(out, domain.OwnerStoreView{
			ID:            st.ID,
			Name:          st.Name,
			AverageRating: roundedAverage(sums[st.ID].Sum, sums[st.ID].Count),
			Raters:        rv,
		})
	}
	return out, nil
}
