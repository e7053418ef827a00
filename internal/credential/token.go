package credential

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields the backend puts in an access token.
type Claims struct {
	UserID int64
	Email  string
	Role   string
	Expiry time.Time
}

var parser = jwt.NewParser()

// ParseToken checks that raw is a three-part JWT carrying a userId and an
// exp claim later than now. The signature is not verified; the backend
// remains the authority on whether a token is accepted.
func ParseToken(raw string, now time.Time) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, mc); err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}

	exp, err := mc.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("token exp: %w", err)
	}
	if exp == nil {
		return Claims{}, errors.New("token has no exp claim")
	}
	if !now.Before(exp.Time) {
		return Claims{}, fmt.Errorf("token expired at %s", exp.Time.Format(time.RFC3339))
	}

	uid, err := claimInt(mc["userId"])
	if err != nil {
		return Claims{}, fmt.Errorf("token userId: %w", err)
	}

	c := Claims{UserID: uid, Expiry: exp.Time}
	c.Email, _ = mc["email"].(string)
	c.Role, _ = mc["role"].(string)
	return c, nil
}

func claimInt(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, errors.New("missing")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
