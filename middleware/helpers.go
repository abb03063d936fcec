package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/Dosada05/tournament-history/models"
	"github.com/golang-jwt/jwt/v4"
)

// Определяем константы для имен JWT claims
const (
	jwtClaimUserID = "user_id"
	jwtClaimName   = "name"
	jwtClaimRole   = "role"
)

// Роли внутренних вызывающих: сервис турниров публикует результаты и состояние игры.
const (
	RoleService = "service"
	RoleAdmin   = "admin"
)

var ErrNoViewer = errors.New("request carries neither a user token nor a guest id")

// GetUserIDFromContext возвращает user_id из claims. Числовые id приводятся к строке.
func GetUserIDFromContext(ctx context.Context) (string, error) {
	claims, ok := ctx.Value(userContextKey).(jwt.MapClaims)
	if !ok {
		return "", errors.New("user claims not found in context or invalid type")
	}

	userIDClaim, ok := claims[jwtClaimUserID]
	if !ok {
		return "", fmt.Errorf("missing '%s' claim in token", jwtClaimUserID)
	}

	switch v := userIDClaim.(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("empty '%s' claim", jwtClaimUserID)
		}
		return v, nil
	case float64:
		if v != math.Trunc(v) || v <= 0 {
			return "", fmt.Errorf("invalid user ID value in '%s' claim: %v", jwtClaimUserID, v)
		}
		return strconv.FormatInt(int64(v), 10), nil
	default:
		return "", fmt.Errorf("invalid type for '%s' claim: expected string or number, got %T", jwtClaimUserID, userIDClaim)
	}
}

// GetUserNameFromContext returns the display name claim, falling back to the user id.
func GetUserNameFromContext(ctx context.Context) string {
	if claims, ok := ctx.Value(userContextKey).(jwt.MapClaims); ok {
		if name, ok := claims[jwtClaimName].(string); ok && name != "" {
			return name
		}
	}
	id, _ := GetUserIDFromContext(ctx)
	return id
}

func GetUserRoleFromContext(ctx context.Context) (string, error) {
	claims, ok := ctx.Value(userContextKey).(jwt.MapClaims)
	if !ok {
		return "", errors.New("user claims not found in context or invalid type")
	}
	role, ok := claims[jwtClaimRole].(string)
	if !ok || role == "" {
		return "", fmt.Errorf("missing '%s' claim in token", jwtClaimRole)
	}
	return role, nil
}

func GetGuestIDFromContext(ctx context.Context) (string, bool) {
	guest, ok := ctx.Value(guestContextKey).(string)
	return guest, ok && guest != ""
}

// GetViewerFromContext: авторизованный пользователь имеет приоритет над гостем.
func GetViewerFromContext(ctx context.Context) (models.Identity, error) {
	if userID, err := GetUserIDFromContext(ctx); err == nil {
		return models.AuthenticatedViewer(userID), nil
	}
	if guestID, ok := GetGuestIDFromContext(ctx); ok {
		return models.GuestViewer(guestID), nil
	}
	return models.Identity{}, ErrNoViewer
}
