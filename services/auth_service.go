package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/cpbr-dev/Clog-Bot/models"
	"github.com/cpbr-dev/Clog-Bot/utils"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// AuthService checks the command dispatcher's client secret and resolves the
// actor a token is minted for.
type AuthService interface {
	Login(ctx context.Context, input LoginInput) (*models.Actor, error)
}

// LoginInput is sent by the dispatcher on behalf of a community member.
type LoginInput struct {
	ClientSecret string         `json:"client_secret"`
	UserID       models.OwnerID `json:"user_id,string"`
	// Role is "admin" when the dispatcher saw an admin role on the member.
	Role string `json:"role,omitempty"`
}

type authService struct {
	secretHash string
	adminIDs   map[models.OwnerID]struct{}
}

func NewAuthService(secretHash string, adminIDs []models.OwnerID) AuthService {
	admins := make(map[models.OwnerID]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &authService{secretHash: secretHash, adminIDs: admins}
}

func (s *authService) Login(ctx context.Context, input LoginInput) (*models.Actor, error) {
	if len(s.secretHash) == 0 || input.ClientSecret == "" || input.UserID <= 0 {
		return nil, ErrAuthInvalidCredentials
	}

	ok, err := utils.CheckSecretHash(input.ClientSecret, s.secretHash)
	if err != nil {
		return nil, fmt.Errorf("failed to compare client secret hash: %w", err)
	}
	if !ok {
		return nil, ErrAuthInvalidCredentials
	}

	_, listed := s.adminIDs[input.UserID]
	return &models.Actor{
		ID:      input.UserID,
		IsAdmin: listed || strings.EqualFold(input.Role, RoleAdmin),
	}, nil
}
