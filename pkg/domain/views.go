package domain

// Read models returned by the directory, aggregator and dashboards.

// StoreView is a store as seen by a signed-in caller.
type StoreView struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Email         string  `json:"email"`
	Address       string  `json:"address"`
	OverallRating float64 `json:"overallRating"`
	AverageRating float64 `json:"averageRating"`
	MyRating      *int    `json:"myRating"`
}

// AdminStoreView lists a store with its owner and every rating filed for it.
type AdminStoreView struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Email     string             `json:"email"`
	Address   string             `json:"address"`
	OwnerID   string             `json:"ownerId,omitempty"`
	OwnerName string             `json:"ownerName"`
	Rating    float64            `json:"rating"`
	Ratings   []StoreRatingEntry `json:"ratings"`
}

type StoreRatingEntry struct {
	ID       string `json:"id"`
	Score    int    `json:"score"`
	UserName string `json:"userName"`
}

// AccountSummary is the admin listing shape of an account.
type AccountSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	Role    Role   `json:"role"`
}

// AccountDetail adds the average over all ratings of every store an OWNER
// owns. OwnerAverage is nil for other roles or when nothing was rated.
type AccountDetail struct {
	AccountSummary
	OwnerAverage *float64 `json:"ownerAverage"`
}

// OwnerStoreView is one row of the owner dashboard.
type OwnerStoreView struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	AverageRating float64     `json:"averageRating"`
	Raters        []RaterView `json:"raters"`
}

// RaterView identifies the account behind a rating; ID is the account id.
type RaterView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Score int    `json:"score"`
}

// Dashboard holds the admin totals.
type Dashboard struct {
	TotalUsers   int `json:"totalUsers"`
	TotalStores  int `json:"totalStores"`
	TotalRatings int `json:"totalRatings"`
}

// Summary returns the listing shape of a.
func (a Account) Summary() AccountSummary {
	return AccountSummary{ID: a.ID, Name: a.Name, Email: a.Email, Address: a.Address, Role: a.Role}
}

// Principal returns the identity snapshot bound into tokens issued for a.
func (a Account) Principal() Principal {
	return Principal{ID: a.ID, Role: a.Role, Name: a.Name, Email: a.Email}
}
