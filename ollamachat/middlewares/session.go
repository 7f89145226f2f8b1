// ollamachat/middlewares/session.go
package middlewares

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"

	"ollamachat/ollamachat/config"
	"ollamachat/ollamachat/utils/errs"
	httputils "ollamachat/ollamachat/utils/http"
	"ollamachat/ollamachat/utils/logging"
)

type contextKey string

const SessionIDKey contextKey = "session_id"

// sessionIDBytes is 128 bits of randomness.
const sessionIDBytes = 16

func NewSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ValidSessionID reports whether id is a hex-encoded session id.
func ValidSessionID(id string) bool {
	if len(id) != sessionIDBytes*2 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

// SessionID returns the session id stored by Session, or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(SessionIDKey).(string)
	return id
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

// Session gives every request a session id, reusing the one in the cookie
// when it is well formed and issuing a new cookie otherwise.
func Session(cfg config.Config, logs *logging.Loggers) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id string
			if c, err := r.Cookie(cfg.SessionCookie); err == nil && ValidSessionID(c.Value) {
				id = c.Value
			}
			if id == "" {
				var err error
				if id, err = NewSessionID(); err != nil {
					httputils.WriteError(w, r, logs, errs.Wrap(errs.Internal, "Internal server error",
						"Unable to start a session. Please try again.", err))
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     cfg.SessionCookie,
					Value:    id,
					Path:     "/",
					MaxAge:   int(cfg.SessionMaxAge.Seconds()),
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), id)))
		})
	}
}
