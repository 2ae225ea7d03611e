// Package auth resolves the caller identity of incoming API requests.
// A valid bearer token yields an authenticated caller; everything else
// is served as a guest with an opaque guest id.
package auth

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/platewise/platewise/assistant"
)

const (
	// SessionCookieName carries the dashboard session id.
	SessionCookieName = "platewise_session"
	// GuestCookieName carries the guest id for unauthenticated callers.
	GuestCookieName = "platewise_guest"

	// callerContextKey stores the resolved caller on the echo context.
	callerContextKey = "platewise/caller"
)

// Claims are the dashboard token claims. Subject holds the user id.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// ParseBearer verifies an HMAC-signed bearer token and extracts the
// authenticated caller. The raw token is kept on the caller; it is
// forwarded to authenticated backend endpoints.
func ParseBearer(secret, token string) (assistant.Caller, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return assistant.Caller{}, errors.Wrap(err, "parse bearer token")
	}
	if !parsed.Valid {
		return assistant.Caller{}, errors.New("invalid bearer token")
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return assistant.Caller{}, errors.New("bearer token carries no user id")
	}
	return assistant.Caller{UserID: userID, AccessToken: token}, nil
}

// Middleware resolves the caller for every request and stores it on the
// context. Invalid tokens are rejected; absent ones fall back to guest.
func Middleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if strings.HasPrefix(header, "Bearer ") {
				caller, err := ParseBearer(secret, strings.TrimPrefix(header, "Bearer "))
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
				}
				c.Set(callerContextKey, caller)
				return next(c)
			}

			caller := assistant.Caller{}
			if cookie, err := c.Cookie(GuestCookieName); err == nil {
				caller.GuestID = cookie.Value
			}
			c.Set(callerContextKey, caller)
			return next(c)
		}
	}
}

// CallerFrom returns the caller resolved by Middleware.
func CallerFrom(c echo.Context) assistant.Caller {
	if caller, ok := c.Get(callerContextKey).(assistant.Caller); ok {
		return caller
	}
	return assistant.Caller{}
}

// SetGuestCookie pins the (possibly rotated) guest id on the response.
func SetGuestCookie(c echo.Context, guestID string, secure bool) {
	if guestID == "" {
		return
	}
	c.SetCookie(&http.Cookie{
		Name:     GuestCookieName,
		Value:    guestID,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(30 * 24 * time.Hour),
	})
}

// SetSessionCookie pins the session id on the response.
func SetSessionCookie(c echo.Context, sessionID string, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
