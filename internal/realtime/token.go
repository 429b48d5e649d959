package realtime

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nhle/portal/internal/live"
	"github.com/nhle/portal/internal/model"
)

const tokenIssuer = "portal"

// ErrUnauthorized is wrapped by every token or subscription rejection.
var ErrUnauthorized = errors.New("unauthorized")

// IsUnauthorized reports whether err (or any error in its chain) is an
// authorization failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// Tokens issues and verifies HS256 access tokens whose subject is an
// employee id.
type Tokens struct {
	secret []byte
	now    func() time.Time
}

// NewTokens creates a token authority keyed by secret.
func NewTokens(secret []byte) *Tokens {
	return &Tokens{secret: secret, now: time.Now}
}

// Issue returns a signed token for employeeID valid for ttl.
func (t *Tokens) Issue(employeeID string, ttl time.Duration) (string, error) {
	if employeeID == "" {
		return "", fmt.Errorf("issuing token: empty subject")
	}

	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   employeeID,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks raw and returns the employee id it was issued for.
func (t *Tokens) Verify(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return claims.Subject, nil
}

// BearerToken extracts the token from an Authorization header, falling
// back to the access_token query parameter for websocket clients that
// cannot set headers.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("access_token")
}

// Authorize decides whether employeeID may watch f. Notification feeds
// are private to their recipient; comment threads are visible to every
// employee.
func Authorize(employeeID string, f live.Filter) error {
	if f.SubjectID == "" {
		return fmt.Errorf("%w: empty subject", ErrUnauthorized)
	}
	switch f.Table {
	case model.TableNotifications:
		if f.SubjectID != employeeID {
			return fmt.Errorf("%w: notifications of %s", ErrUnauthorized, f.SubjectID)
		}
		return nil
	case model.TableComments:
		return nil
	default:
		return fmt.Errorf("%w: unknown table %q", ErrUnauthorized, f.Table)
	}
}
