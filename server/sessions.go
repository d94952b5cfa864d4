package main

import (
	"fmt"
	"net/http"
	"time"

	. "github.com/openedtools/quizext/types"

	"github.com/gorilla/securecookie"
)

// sessionLifetime is how long an LTI launch stays valid. Staff relaunch
// the tool from the LMS to get a fresh session.
const sessionLifetime = 8 * time.Hour

type CookieSession struct {
	ExpiresAt    time.Time
	CanvasUserID int64
	IsAdmin      bool
	path         string
}

func NewSession(canvasUserID int64, isAdmin bool) *CookieSession {
	return &CookieSession{
		ExpiresAt:    time.Now().Add(sessionLifetime),
		CanvasUserID: canvasUserID,
		IsAdmin:      isAdmin,
		path:         "/",
	}
}

func GetSession(r *http.Request) (*CookieSession, error) {
	now := time.Now()

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, fmt.Errorf("unable to read session cookie")
	}

	// decode and verify signature
	session := new(CookieSession)
	secure := securecookie.New([]byte(Config.SessionSecret), nil)
	secure.MaxAge(0)
	if err = secure.Decode(CookieName, cookie.Value, session); err != nil {
		return nil, fmt.Errorf("unable to decode session cookie")
	}

	// check expiration
	if session.ExpiresAt.Before(now) {
		return nil, fmt.Errorf("session is expired; must launch again to continue")
	}

	// sanity check
	if session.CanvasUserID < 1 {
		return nil, fmt.Errorf("session does not contain a legal user ID field")
	}

	return session, nil
}

func (session *CookieSession) Save(w http.ResponseWriter) string {
	// encode and sign
	secure := securecookie.New([]byte(Config.SessionSecret), nil)
	secure.MaxAge(0)
	encoded, err := secure.Encode(CookieName, session)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "creating session: %v", err)
		return ""
	}

	// the tool runs in an LMS iframe, so the cookie must be usable in a
	// third-party context
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    encoded,
		Path:     session.path,
		Expires:  session.ExpiresAt,
		MaxAge:   int(time.Until(session.ExpiresAt).Seconds()),
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
	http.SetCookie(w, cookie)
	return fmt.Sprintf("%s=%s", CookieName, encoded)
}

func (session *CookieSession) Delete(w http.ResponseWriter) {
	epoch := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    "deleted",
		Path:     session.path,
		Expires:  epoch,
		MaxAge:   -1,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
	http.SetCookie(w, cookie)
}
