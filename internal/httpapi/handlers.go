package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/schoolnotes/authcore"
	"github.com/schoolnotes/authcore/middleware"
	"github.com/schoolnotes/authcore/policy"
)

type registerRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type createAccountRequest struct {
	registerRequest
	Role   string `json:"role"`
	Status string `json:"status"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// profileRequest fields are optional; an absent field is left unchanged.
type profileRequest struct {
	DisplayName *string `json:"display_name"`
	Username    *string `json:"username"`
	Email       *string `json:"email"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type roleRequest struct {
	Role string `json:"role"`
}

type sessionResponse struct {
	Account authcore.AccountView `json:"account"`
	Tokens  *authcore.TokenPair  `json:"tokens"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	acc, pair, err := s.engine.Register(r.Context(), authcore.RegisterRequest{
		Email:       req.Email,
		Username:    req.Username,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		middleware.WriteError(w, r, s.logger, err)
		return
	}

	middleware.WriteData(w, http.StatusCreated, "account registered", sessionResponse{
		Account: acc.PublicView(),
		Tokens:  pair,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}

	acc, pair, err := s.engine.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		middleware.WriteError(w, r, s.logger, err)
		return
	}

	middleware.WriteData(w, http.StatusOK, "logged in", sessionResponse{
		Account: acc.PublicView(),
		Tokens:  pair,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decode(w, r, &req) {
		return
	}

	pair, err := s.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		middleware.WriteError(w, r, s.logger, err)
		return
	}

	middleware.WriteData(w, http.StatusOK, "token refreshed", pair)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.AccountFromContext(r.Context())
	middleware.WriteData(w, http.StatusOK, "ok", caller.PublicView())
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.AccountFromContext(r.Context())

	var req changePasswordRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.engine.ChangePassword(r.Context(), caller.ID, req.CurrentPassword, req.NewPassword); err != nil {
		middleware.WriteError(w, r, s.logger, err)
		return
	}

	middleware.WriteData(w, http.StatusOK, "password changed", nil)
}

// handleListAccounts returns every account to admins and only the caller's
// own account to everyone else.
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.AccountFromContext(r.Context())

	views, err := s.engine.ListAccounts(r.Context(), policy.OwnershipFilter(caller))
	if err != nil {
		middleware.WriteError(w, r, s.logger, err)
		return
	}

	middleware.WriteData(w, http.StatusOK, "ok", map[string]any{
		"accounts": views,
		"count":    len(views),
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.AccountFromContext(r.Context())

	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	if err := policy.RequireAccess(caller, id); err != nil {
		middleware.WriteError(w, r, s.logger, err)
		return
	}

	acc, err := s.engine.GetAccount(r.Context(), id)
	if err != nil {
		middleware.WriteError(w, r, s.logger, err)
		return
	}

	middleware.WriteData(w, http.StatusOK, "ok", acc.PublicView())
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.AccountFromContext(r.Context())

	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	if err := policy.RequireAccess(caller, id); err != nil {
		middleware.WriteError(w, r, s.logger, err)
		return
	}

	var req profileRequest
	if !s.decode(w, r, &req) {
		return
	}

	acc, err := s.engine.UpdateProfile(r.Context(), id, authcore.ProfileUpdate{
		DisplayName: req.DisplayName,
		Username:    req.Username,
		Email:       req.Email,
	})
	if err != nil {
		middleware.WriteError(w, r, s.logger, err)
		return
	}

	middleware.WriteData(w, http.StatusOK, "account updated", acc.PublicView())
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !s.decode(w, r, &req) {
		return
	}

	out := authcore.CreateAccountRequest{
		RegisterRequest: authcore.RegisterRequest{
			Email:       req.Email,
			Username:    req.Username,
			Password:    req.Password,
			DisplayName: req.DisplayName,
		},
	}
	if req.Role != "" {
		role, err := authcore.ParseRole(req.Role)
		if err != nil {
			middleware.WriteError(w, r, s.logger, &authcore.ValidationError{Field: "role", Reason: "unknown role"})
			return
		}
		out.Role = role
	}
	if req.Status != "" {
		status, err := authcore.ParseStatus(req.Status)
		if err != nil {
			middleware.WriteError(w, r, s.logger, &authcore.ValidationError{Field: "status", Reason: "unknown status"})
			return
		}
		out.Status = status
	}

	acc, err := s.engine.CreateAccount(r.Context(), out)
	if err != nil {
		middleware.WriteError(w, r, s.logger, err)
		return
	}

	middleware.WriteData(w, http.StatusCreated, "account created", acc.PublicView())
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.foreignAccountID(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if !s.decode(w, r, &req) {
		return
	}
	status, err := authcore.ParseStatus(req.Status)
	if err != nil {
		middleware.WriteError(w, r, s.logger, &authcore.ValidationError{Field: "status", Reason: "unknown status"})
		return
	}

	acc, err := s.engine.SetStatus(r.Context(), id, status)
	if err != nil {
		middleware.WriteError(w, r, s.logger, err)
		return
	}

	middleware.WriteData(w, http.StatusOK, "status updated", acc.PublicView())
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := s.foreignAccountID(w, r)
	if !ok {
		return
	}

	var req roleRequest
	if !s.decode(w, r, &req) {
		return
	}
	role, err := authcore.ParseRole(req.Role)
	if err != nil {
		middleware.WriteError(w, r, s.logger, &authcore.ValidationError{Field: "role", Reason: "unknown role"})
		return
	}

	acc, err := s.engine.SetRole(r.Context(), id, role)
	if err != nil {
		middleware.WriteError(w, r, s.logger, err)
		return
	}

	middleware.WriteData(w, http.StatusOK, "role updated", acc.PublicView())
}

func (s *Server) accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, s.logger, &authcore.ValidationError{Field: "id", Reason: "must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

// foreignAccountID is accountID for admin mutations. Admins cannot change
// their own role or status, so the last admin cannot lock everyone out.
func (s *Server) foreignAccountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := s.accountID(w, r)
	if !ok {
		return uuid.Nil, false
	}

	caller, _ := middleware.AccountFromContext(r.Context())
	if caller != nil && caller.ID == id {
		middleware.WriteError(w, r, s.logger, authcore.ErrAccessDenied)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		reason := "invalid JSON body"
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			reason = "request body is empty"
		case errors.As(err, &maxErr):
			reason = "request body too large"
		}
		middleware.WriteError(w, r, s.logger, &authcore.ValidationError{Field: "body", Reason: reason})
		return false
	}
	return true
}
