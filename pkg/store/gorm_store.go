package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"storerate/pkg/domain"
)

const migrateLockID int64 = 51735173

var (
	accountSortColumns = map[string]string{
		"name":    "name",
		"email":   "email",
		"address": "address",
		"role":    "role",
	}
	storeSortColumns = map[string]string{
		"name":    "name",
		"email":   "email",
		"address": "address",
	}
)

var returningID = clause.Returning{Columns: []clause.Column{{Name: "id"}}}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), gormConfig(gormLog))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&AccountModel{}, &StoreModel{}, &RatingModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreFromDB wraps an already opened connection without migrating.
func NewGormStoreFromDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func gormConfig(l gormlogger.Interface) *gorm.Config {
	return &gorm.Config{
		Logger:                 l,
		TranslateError:         true,
		SkipDefaultTransaction: true,
	}
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateAccount inserts a new account.
func (s *GormStore) CreateAccount(a domain.Account) error {
	model := accountToModel(a)
	if err := s.db.Create(&model).Error; err != nil {
		return translateWriteError(err)
	}
	return nil
}

// SetPasswordHash replaces the stored credential hash.
func (s *GormStore) SetPasswordHash(accountID, hash string) error {
	res := s.db.Model(&AccountModel{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"password_hash": hash,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// HasAccountEmail checks if email exists.
func (s *GormStore) HasAccountEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&AccountModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetAccountByEmail looks up an account by email.
func (s *GormStore) GetAccountByEmail(email string) (domain.Account, bool, error) {
	var model AccountModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, err
	}
	return accountFromModel(model), true, nil
}

// GetAccountByID returns an account by ID.
func (s *GormStore) GetAccountByID(id string) (domain.Account, bool, error) {
	var model AccountModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, err
	}
	return accountFromModel(model), true, nil
}

// ListAccounts returns accounts matching f in the requested order.
func (s *GormStore) ListAccounts(f domain.AccountFilter) ([]domain.Account, error) {
	tx := s.db.Model(&AccountModel{})
	tx = whereContains(tx, "name", f.Name)
	tx = whereContains(tx, "email", f.Email)
	tx = whereContains(tx, "address", f.Address)
	if f.Role != "" {
		tx = tx.Where("role = ?", string(f.Role))
	}
	var models []AccountModel
	if err := tx.Order(orderBy(accountSortColumns, f.SortBy, f.Desc)).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Account, 0, len(models))
	for _, m := range models {
		res = append(res, accountFromModel(m))
	}
	return res, nil
}

// AccountCount returns number of accounts.
func (s *GormStore) AccountCount() (int, error) {
	return s.count(&AccountModel{})
}

// DeleteAccount removes an account with its ratings and owned stores.
// The account and owned store rows are locked first so concurrent rating
// writes against them wait for the cascade and then fail their FK check.
func (s *GormStore) DeleteAccount(id string) (domain.CascadeResult, error) {
	var res domain.CascadeResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var account AccountModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&account, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if domain.Role(account.Role) == domain.RoleAdmin {
			return ErrProtectedAccount
		}

		var owned []StoreModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("owner_id = ?", id).
			Find(&owned).Error; err != nil {
			return fmt.Errorf("lock owned stores: %w", err)
		}
		storeIDs := make([]string, 0, len(owned))
		for _, st := range owned {
			storeIDs = append(storeIDs, st.ID)
		}

		ratingQuery := tx.Clauses(returningID).Where("account_id = ?", id)
		if len(storeIDs) > 0 {
			ratingQuery = ratingQuery.Or("store_id IN ?", storeIDs)
		}
		var ratings []RatingModel
		if err := ratingQuery.Delete(&ratings).Error; err != nil {
			return fmt.Errorf("delete ratings: %w", err)
		}
		if len(storeIDs) > 0 {
			if err := tx.Where("id IN ?", storeIDs).Delete(&StoreModel{}).Error; err != nil {
				return fmt.Errorf("delete owned stores: %w", err)
			}
		}
		if err := tx.Where("id = ?", id).Delete(&AccountModel{}).Error; err != nil {
			return fmt.Errorf("delete account: %w", err)
		}

		res = domain.CascadeResult{
			AccountIDs: []string{id},
			StoreIDs:   storeIDs,
			RatingIDs:  ratingIDs(ratings),
		}
		return nil
	})
	if err != nil {
		return domain.CascadeResult{}, err
	}
	return res, nil
}

// CreateStore inserts a new store.
func (s *GormStore) CreateStore(st domain.Store) error {
	model := storeToModel(st)
	if err := s.db.Create(&model).Error; err != nil {
		return translateWriteError(err)
	}
	return nil
}

// HasStoreEmail checks if a store email exists.
func (s *GormStore) HasStoreEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&StoreModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetStore retrieves a store.
func (s *GormStore) GetStore(id string) (domain.Store, bool, error) {
	var model StoreModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Store{}, false, nil
		}
		return domain.Store{}, false, err
	}
	return storeFromModel(model), true, nil
}

// ListStores returns stores matching f in the requested order.
func (s *GormStore) ListStores(f domain.StoreFilter) ([]domain.Store, error) {
	tx := s.db.Model(&StoreModel{})
	tx = whereContains(tx, "name", f.Name)
	tx = whereContains(tx, "address", f.Address)
	if f.OwnerID != "" {
		tx = tx.Where("owner_id = ?", f.OwnerID)
	}
	var models []StoreModel
	if err := tx.Order(orderBy(storeSortColumns, f.SortBy, f.Desc)).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Store, 0, len(models))
	for _, m := range models {
		res = append(res, storeFromModel(m))
	}
	return res, nil
}

// StoreCount returns number of stores.
func (s *GormStore) StoreCount() (int, error) {
	return s.count(&StoreModel{})
}

// DeleteStore removes a store and its ratings.
func (s *GormStore) DeleteStore(id string) (domain.CascadeResult, error) {
	var res domain.CascadeResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model StoreModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		var ratings []RatingModel
		if err := tx.Clauses(returningID).Where("store_id = ?", id).Delete(&ratings).Error; err != nil {
			return fmt.Errorf("delete ratings: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&StoreModel{}).Error; err != nil {
			return fmt.Errorf("delete store: %w", err)
		}
		res = domain.CascadeResult{
			StoreIDs:  []string{id},
			RatingIDs: ratingIDs(ratings),
		}
		return nil
	})
	if err != nil {
		return domain.CascadeResult{}, err
	}
	return res, nil
}

// UpsertRating inserts a rating or overwrites the score of the existing
// (account, store) row in a single statement and returns the stored row.
func (s *GormStore) UpsertRating(r domain.Rating) (domain.Rating, error) {
	model := ratingToModel(r)
	err := s.db.Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "store_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "updated_at"}),
		},
		clause.Returning{},
	).Create(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return domain.Rating{}, ErrNotFound
		}
		return domain.Rating{}, err
	}
	return ratingFromModel(model), nil
}

// GetRating returns the rating filed by accountID for storeID.
func (s *GormStore) GetRating(accountID, storeID string) (domain.Rating, bool, error) {
	var model RatingModel
	if err := s.db.Where("account_id = ? AND store_id = ?", accountID, storeID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Rating{}, false, nil
		}
		return domain.Rating{}, false, err
	}
	return ratingFromModel(model), true, nil
}

// RatingCount returns number of ratings.
func (s *GormStore) RatingCount() (int, error) {
	return s.count(&RatingModel{})
}

type summaryRow struct {
	StoreID string
	Total   int
	Cnt     int
}

// RatingSummaries returns score sums and counts keyed by store ID.
// Stores without ratings are absent from the map.
func (s *GormStore) RatingSummaries(storeIDs []string) (map[string]domain.RatingSummary, error) {
	out := make(map[string]domain.RatingSummary, len(storeIDs))
	if len(storeIDs) == 0 {
		return out, nil
	}
	var rows []summaryRow
	if err := s.db.Model(&RatingModel{}).
		Select("store_id, SUM(score) AS total, COUNT(*) AS cnt").
		Where("store_id IN ?", storeIDs).
		Group("store_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.StoreID] = domain.RatingSummary{StoreID: row.StoreID, Sum: row.Total, Count: row.Cnt}
	}
	return out, nil
}

// AccountScores returns the scores accountID filed, keyed by store ID.
func (s *GormStore) AccountScores(accountID string, storeIDs []string) (map[string]int, error) {
	out := make(map[string]int)
	if accountID == "" || len(storeIDs) == 0 {
		return out, nil
	}
	var models []RatingModel
	if err := s.db.Where("account_id = ? AND store_id IN ?", accountID, storeIDs).Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.StoreID] = m.Score
	}
	return out, nil
}

type raterRow struct {
	RatingID  string
	StoreID   string
	AccountID string
	Name      string
	Email     string
	Score     int
}

// ListRaters returns the ratings of the given stores joined with their raters.
func (s *GormStore) ListRaters(storeIDs []string) ([]domain.Rater, error) {
	if len(storeIDs) == 0 {
		return []domain.Rater{}, nil
	}
	var rows []raterRow
	if err := s.db.Table("rating_models AS r").
		Select("r.id AS rating_id, r.store_id, r.account_id, a.name, a.email, r.score").
		Joins("JOIN account_models AS a ON a.id = r.account_id").
		Where("r.store_id IN ?", storeIDs).
		Order("r.created_at ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Rater, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Rater(row))
	}
	return out, nil
}

func (s *GormStore) count(model any) (int, error) {
	var count int64
	if err := s.db.Model(model).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func whereContains(tx *gorm.DB, column, value string) *gorm.DB {
	value = strings.TrimSpace(value)
	if value == "" {
		return tx
	}
	return tx.Where(column+" ILIKE ?", "%"+escapeLike(value)+"%")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// orderBy maps a requested sort key onto a whitelisted column. Unknown keys
// fall back to name ascending.
func orderBy(columns map[string]string, sortBy string, desc bool) clause.OrderByColumn {
	column, desc := sortKey(columns, sortBy, desc)
	return clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc}
}

func translateWriteError(err error) error {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateEmail
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return ErrNotFound
	default:
		return err
	}
}

func ratingIDs(models []RatingModel) []string {
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	return ids
}

func accountToModel(a domain.Account) AccountModel {
	return AccountModel{
		ID:           a.ID,
		Name:         a.Name,
		Email:        a.Email,
		Address:      a.Address,
		PasswordHash: a.PasswordHash,
		Role:         string(a.Role),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func accountFromModel(m AccountModel) domain.Account {
	return domain.Account{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		Address:      m.Address,
		PasswordHash: m.PasswordHash,
		Role:         domain.Role(m.Role),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func storeToModel(st domain.Store) StoreModel {
	var ownerID *string
	if v := strings.TrimSpace(st.OwnerID); v != "" {
		ownerID = &v
	}
	return StoreModel{
		ID:        st.ID,
		Name:      st.Name,
		Email:     st.Email,
		Address:   st.Address,
		OwnerID:   ownerID,
		CreatedAt: st.CreatedAt,
		UpdatedAt: st.UpdatedAt,
	}
}

func storeFromModel(m StoreModel) domain.Store {
	ownerID := ""
	if m.OwnerID != nil {
		ownerID = *m.OwnerID
	}
	return domain.Store{
		ID:        m.ID,
		Name:      m.Name,
		Email:     m.Email,
		Address:   m.Address,
		OwnerID:   ownerID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func ratingToModel(r domain.Rating) RatingModel {
	return RatingModel{
		ID:        r.ID,
		AccountID: r.AccountID,
		StoreID:   r.StoreID,
		Score:     r.Score,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func ratingFromModel(m RatingModel) domain.Rating {
	return domain.Rating{
		ID:        m.ID,
		AccountID: m.AccountID,
		StoreID:   m.StoreID,
		Score:     m.Score,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
