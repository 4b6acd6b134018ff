package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/joseph-ayodele/pdftext/internal/common"
)

type AuthHandler struct {
	auth   *Authenticator
	logger *slog.Logger
}

func NewAuthHandler(auth *Authenticator, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{auth: auth, logger: logger}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, r, h.logger, common.NewAppError("VALIDATION_ERROR", "invalid JSON body", common.ErrInvalidInput))
		return
	}
	v := common.NewValidator()
	v.Field("username", req.Username, common.Required)
	v.Field("password", req.Password, common.Required)
	if err := v.Err(); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	token, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		h.logger.Warn("login failed", "username", req.Username)
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.auth.ttl.Seconds()),
	})
}
