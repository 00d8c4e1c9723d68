package server

import (
	"net/http"
	"strings"

	"storerate/internal/app"
	"storerate/pkg/domain"
)

func (s *Server) handleAdminDashboard(w http.ResponseWriter, r *http.Request, _ domain.Principal) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	d, err := s.app.AdminDashboard()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, admin domain.Principal) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		accounts, err := s.app.ListAccounts(app.AccountQuery{
			Name:    q.Get("name"),
			Email:   q.Get("email"),
			Address: q.Get("address"),
			Role:    q.Get("role"),
			SortBy:  q.Get("sortBy"),
			Order:   q.Get("order"),
		})
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, accounts)
	case http.MethodPost:
		var req createAccountRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		account, err := s.app.CreateAccount(app.NewAccountInput{
			Name:     req.Name,
			Email:    req.Email,
			Address:  req.Address,
			Password: req.Password,
			Role:     req.Role,
		})
		if err != nil {
			s.audit(r, "admin.user.create", "fail", "user_id", admin.ID, "reason", auditReason(err))
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "admin.user.create", "success", "user_id", admin.ID, "target_id", account.ID, "role", string(account.Role))
		writeJSON(w, http.StatusCreated, account.Summary())
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAdminUserByID(w http.ResponseWriter, r *http.Request, admin domain.Principal) {
	id := strings.TrimPrefix(r.URL.Path, "/admin/users/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		detail, err := s.app.GetAccountDetail(id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	case http.MethodDelete:
		removed, err := s.app.DeleteAccount(id)
		if err != nil {
			s.audit(r, "admin.user.delete", "fail", "user_id", admin.ID, "target_id", id, "reason", auditReason(err))
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "admin.user.delete", "success", "user_id", admin.ID, "target_id", id,
			"stores_removed", len(removed.StoreIDs), "ratings_removed", len(removed.RatingIDs))
		writeJSON(w, http.StatusOK, deleteResponse{Message: "User deleted successfully", Removed: removed})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAdminStores(w http.ResponseWriter, r *http.Request, admin domain.Principal) {
	switch r.Method {
	case http.MethodGet:
		stores, err := s.app.AdminStores(storeQuery(r))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stores)
	case http.MethodPost:
		var req createStoreRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		st, err := s.app.CreateStore(app.NewStoreInput{
			Name:    req.Name,
			Email:   req.Email,
			Address: req.Address,
			OwnerID: req.OwnerID,
		})
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "admin.store.create", "success", "user_id", admin.ID, "store_id", st.ID)
		writeJSON(w, http.StatusCreated, st)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAdminStoreByID(w http.ResponseWriter, r *http.Request, admin domain.Principal) {
	id := strings.TrimPrefix(r.URL.Path, "/admin/stores/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	removed, err := s.app.DeleteStore(id)
	if err != nil {
		s.audit(r, "admin.store.delete", "fail", "user_id", admin.ID, "store_id", id, "reason", auditReason(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "admin.store.delete", "success", "user_id", admin.ID, "store_id", id, "ratings_removed", len(removed.RatingIDs))
	writeJSON(w, http.StatusOK, deleteResponse{Message: "Store deleted successfully", Removed: removed})
}

type createAccountRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Address  string `json:"address"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type createStoreRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	OwnerID string `json:"ownerId"`
}

type deleteResponse struct {
	Message string               `json:"message"`
	Removed domain.CascadeResult `json:"removed"`
}
