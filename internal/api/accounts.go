package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/bher20/meterbill/internal/auth"
	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/storage"
	"github.com/rs/zerolog/log"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type tokenPairResponse struct {
	User    userDTO `json:"user"`
	Access  string  `json:"access"`
	Refresh string  `json:"refresh"`
}

// Register creates an owner account and returns a token pair.
// @Summary Register
// @Tags auth
// @Accept json
// @Produce json
// @Success 201 {object} tokenPairResponse
// @Router /api/auth/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	verr := &billing.ValidationError{}
	checkText(verr, "username", req.Username, 150, true)
	if req.Password == "" {
		verr.Add("password", "This field may not be blank.")
	}
	checkText(verr, "email", req.Email, 254, false)
	if err := failed(verr); err != nil {
		fail(w, r, err)
		return
	}

	u, err := h.auth.Register(r.Context(), req.Username, req.Password, req.Email, auth.RoleOwner)
	if errors.Is(err, auth.ErrUserExists) {
		writeValidation(w, billing.Invalid("username", "A user with that username already exists."))
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	h.provisionDemo(r.Context(), u)
	h.writeTokenPair(w, r, http.StatusCreated, u)
}

// Login exchanges credentials for a token pair.
// @Summary Login
// @Tags auth
// @Accept json
// @Produce json
// @Success 200 {object} tokenPairResponse
// @Failure 401 {object} errorEnvelope
// @Router /api/auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	u, err := h.auth.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "No active account found with the given credentials")
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	h.provisionDemo(r.Context(), u)
	h.writeTokenPair(w, r, http.StatusOK, u)
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// RefreshToken issues a new access token for a refresh token.
// @Summary Refresh access token
// @Tags auth
// @Router /api/auth/refresh [post]
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.Refresh == "" {
		writeValidation(w, billing.Invalid("refresh", requiredMsg))
		return
	}
	access, err := h.auth.Refresh(r.Context(), req.Refresh)
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrTokenExpired) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Token is invalid or expired")
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": access})
}

func (h *Handler) writeTokenPair(w http.ResponseWriter, r *http.Request, status int, u *storage.User) {
	access, refresh, err := h.auth.IssuePair(r.Context(), u)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, status, tokenPairResponse{User: toUserDTO(u), Access: access, Refresh: refresh})
}

// provisionDemo fills the demo account. A failure is logged and does not block the login.
func (h *Handler) provisionDemo(ctx context.Context, u *storage.User) {
	if h.demo == nil {
		return
	}
	if _, err := h.demo.EnsureDemo(ctx, u); err != nil {
		log.Error().Err(err).Str("username", u.Username).Msg("demo provisioning failed")
	}
}

// ownedProperty returns the property when it exists and belongs to userID.
func (h *Handler) ownedProperty(ctx context.Context, userID string, id uint) (*storage.Property, error) {
	p, err := h.st.GetProperty(ctx, id)
	if err != nil || p == nil || p.OwnerID != userID {
		return nil, err
	}
	return p, nil
}

// ownedMeter returns the meter when its property belongs to userID.
func (h *Handler) ownedMeter(ctx context.Context, userID string, id uint) (*storage.Meter, error) {
	m, err := h.st.GetMeter(ctx, id)
	if err != nil || m == nil {
		return nil, err
	}
	p, err := h.ownedProperty(ctx, userID, m.PropertyID)
	if err != nil || p == nil {
		return nil, err
	}
	return m, nil
}

// ownedPropertyIDs lists the ids of the caller's properties. The result is
// never nil so that it can be used directly as a storage filter.
func (h *Handler) ownedPropertyIDs(ctx context.Context, userID string) ([]uint, error) {
	props, err := h.st.ListProperties(ctx, storage.PropertyFilter{OwnerID: userID})
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(props))
	for _, p := range props {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// narrow restricts owned to a single requested id, matching nothing when it is foreign.
func narrow(owned []uint, id uint) []uint {
	for _, v := range owned {
		if v == id {
			return []uint{id}
		}
	}
	return []uint{}
}
