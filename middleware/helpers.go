package middleware

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/cpbr-dev/Clog-Bot/models"
	"github.com/golang-jwt/jwt/v4"
)

const (
	jwtClaimUserID = "user_id"
	jwtClaimRole   = "role"

	roleAdmin = "admin"
)

func withClaims(ctx context.Context, claims jwt.MapClaims) context.Context {
	return context.WithValue(ctx, userContextKey, claims)
}

// userIDFromClaims accepts the id as a string (snowflakes do not fit a float64)
// or as a JSON number for small ids.
func userIDFromClaims(claims jwt.MapClaims) (models.OwnerID, error) {
	userIDClaim, ok := claims[jwtClaimUserID]
	if !ok {
		return 0, fmt.Errorf("missing '%s' claim in token", jwtClaimUserID)
	}

	var id int64
	switch v := userIDClaim.(type) {
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid '%s' claim: %q", jwtClaimUserID, v)
		}
		id = parsed
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt64 {
			return 0, fmt.Errorf("'%s' claim is not an integer: %f", jwtClaimUserID, v)
		}
		id = int64(v)
	default:
		return 0, fmt.Errorf("invalid type for '%s' claim: expected string or number, got %T", jwtClaimUserID, userIDClaim)
	}

	if id <= 0 {
		return 0, fmt.Errorf("invalid user ID value in '%s' claim: %d", jwtClaimUserID, id)
	}
	return models.OwnerID(id), nil
}

func GetUserIDFromContext(ctx context.Context) (models.OwnerID, error) {
	claims, ok := ctx.Value(userContextKey).(jwt.MapClaims)
	if !ok {
		return 0, errNoClaims
	}
	return userIDFromClaims(claims)
}

// ActorFromContext builds the acting member from the token claims.
func ActorFromContext(ctx context.Context) (models.Actor, error) {
	claims, ok := ctx.Value(userContextKey).(jwt.MapClaims)
	if !ok {
		return models.Actor{}, errNoClaims
	}
	id, err := userIDFromClaims(claims)
	if err != nil {
		return models.Actor{}, err
	}
	role, _ := claims[jwtClaimRole].(string)
	return models.Actor{ID: id, IsAdmin: role == roleAdmin}, nil
}

// ContextWithActor is used by tests and internal callers that bypass token parsing.
func ContextWithActor(ctx context.Context, actor models.Actor) context.Context {
	role := "member"
	if actor.IsAdmin {
		role = roleAdmin
	}
	return withClaims(ctx, jwt.MapClaims{
		jwtClaimUserID: strconv.FormatInt(int64(actor.ID), 10),
		jwtClaimRole:   role,
	})
}
