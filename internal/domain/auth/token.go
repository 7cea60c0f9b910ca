package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v4"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or
// claim checks.
var ErrInvalidToken = errors.New("invalid token")

// Tokens issues and verifies HS256 user tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates Tokens signing with secret. Issued tokens expire after
// ttl.
func NewTokens(secret []byte, ttl time.Duration) *Tokens {
	return &Tokens{secret: secret, ttl: ttl, now: time.Now}
}

// Issue returns a signed token for u.
func (t *Tokens) Issue(u User) (string, error) {
	claims := jwt.MapClaims{
		"user_id": u.ID,
		"email":   u.Email,
		"name":    u.Name,
		"phone":   u.Phone,
		"iat":     t.now().Unix(),
		"exp":     t.now().Add(t.ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// Parse verifies raw and returns the user it was issued for.
func (t *Tokens) Parse(raw string) (User, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	tok, err := parser.Parse(raw, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil || !tok.Valid {
		return User{}, ErrInvalidToken
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return User{}, ErrInvalidToken
	}

	id, err := userID(claims["user_id"])
	if err != nil {
		return User{}, ErrInvalidToken
	}
	return User{
		ID:    id,
		Email: stringClaim(claims, "email"),
		Name:  stringClaim(claims, "name"),
		Phone: stringClaim(claims, "phone"),
	}, nil
}

// userID accepts both string and numeric user_id claims.
func userID(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return "", errors.New("empty user_id")
		}
		return v, nil
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	default:
		return "", fmt.Errorf("unexpected user_id type %T", raw)
	}
}

func stringClaim(claims jwt.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}
