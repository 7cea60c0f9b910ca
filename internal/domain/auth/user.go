package auth

import (
	"context"
	"strings"
)

// User is the authenticated shopper behind a request.
type User struct {
	ID    string
	Email string
	Name  string
	Phone string
}

// FirstName returns the first word of the display name.
func (u User) FirstName() string {
	first, _, _ := strings.Cut(strings.TrimSpace(u.Name), " ")
	return first
}

// LastName returns everything after the first word of the display name.
func (u User) LastName() string {
	_, last, _ := strings.Cut(strings.TrimSpace(u.Name), " ")
	return strings.TrimSpace(last)
}

type userKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom returns the user stored in ctx by WithUser.
func UserFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey{}).(User)
	return u, ok && u.ID != ""
}
