package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cpbr-dev/Clog-Bot/services"
	"github.com/golang-jwt/jwt/v4"
)

const defaultTokenTTL = 24 * time.Hour

type AuthHandler struct {
	authService services.AuthService
	jwtSecret   []byte
	tokenTTL    time.Duration
	now         func() time.Time
}

func NewAuthHandler(authService services.AuthService, jwtSecret string) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		jwtSecret:   []byte(jwtSecret),
		tokenTTL:    defaultTokenTTL,
		now:         time.Now,
	}
}

// IssueToken godoc
// @Summary Выдать JWT диспетчеру команд от имени участника
// @Tags auth
// @Accept json
// @Produce json
// @Param input body services.LoginInput true "Dispatcher credentials"
// @Success 200 {object} map[string]interface{} "token"
// @Failure 401 {object} map[string]string
// @Router /auth/token [post]
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var input services.LoginInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.ClientSecret == "" || input.UserID == 0 {
		badRequestResponse(w, r, errors.New("client_secret and user_id are required"))
		return
	}

	actor, err := h.authService.Login(r.Context(), input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	role := services.RoleMember
	if actor.IsAdmin {
		role = services.RoleAdmin
	}
	now := h.now()
	expiresAt := now.Add(h.tokenTTL)
	claims := jwt.MapClaims{
		"user_id": strconv.FormatInt(int64(actor.ID), 10),
		"role":    role,
		"exp":     expiresAt.Unix(),
		"iat":     now.Unix(),
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.jwtSecret)
	if err != nil {
		serverErrorResponse(w, r, fmt.Errorf("failed to sign token: %w", err))
		return
	}

	response := jsonResponse{
		"token":      tokenString,
		"expires_at": expiresAt.UTC(),
		"role":       role,
	}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
