package httpapi

import (
	"context"

	"github.com/google/uuid"

	appExchange "github.com/campusswap/campusswap/internal/application/exchange"
	appListing "github.com/campusswap/campusswap/internal/application/listing"
	"github.com/campusswap/campusswap/internal/domain/user"
)

type authContextKey string

const authUserKey authContextKey = "authUser"

// AuthUser represents the authenticated user in context.
type AuthUser struct {
	UserID    uuid.UUID
	Username  string
	Role      user.Role
	SessionID uuid.UUID
}

func (u AuthUser) exchangeActor() appExchange.Actor {
	return appExchange.Actor{UserID: u.UserID, Role: u.Role}
}

func (u AuthUser) listingActor() appListing.Actor {
	return appListing.Actor{UserID: u.UserID, Role: u.Role}
}

func withAuthUser(ctx context.Context, u *AuthUser) context.Context {
	if u == nil {
		return ctx
	}
	return context.WithValue(ctx, authUserKey, u)
}

func authUserFromContext(ctx context.Context) *AuthUser {
	val := ctx.Value(authUserKey)
	if v, ok := val.(*AuthUser); ok {
		return v
	}
	return nil
}
