package auth

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const APIKeyHeader = "X-Api-Key"

// RequireAPIKey guards owner/admin routes. Key issuance and rotation live outside
// this service; it only verifies the presented key against a bcrypt hash from config.
// An empty hash disables the check (dev mode).
func RequireAPIKey(keyHash string) func(http.Handler) http.Handler {
	keyHash = strings.TrimSpace(keyHash)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keyHash == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
			if key == "" {
				http.Error(w, "missing api key", http.StatusUnauthorized)
				return
			}
			if bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)) != nil {
				http.Error(w, "invalid api key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WalletIDs returns the wallet scope injected by the gateway, comma-separated
// for listings that span all of an owner's wallets.
func WalletIDs(r *http.Request) []string {
	raw := r.Header.Get("X-Wallet-Id")
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
