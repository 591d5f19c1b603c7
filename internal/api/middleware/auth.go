package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// BearerAuth checks the static shared key with a constant-time compare.
// It runs before anything that touches the state store, so a bad key
// never consumes rate-limit quota.
func BearerAuth(apiKey string) func(ctx huma.Context, next func(huma.Context)) {
	expected := []byte(apiKey)

	return func(ctx huma.Context, next func(huma.Context)) {
		auth := ctx.Header("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			writeError(ctx, http.StatusUnauthorized, "Unauthorized", "invalid or missing bearer token")
			return
		}
		next(ctx)
	}
}

// SecureCompare is a constant-time string equality check.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func writeError(ctx huma.Context, status int, kind, msg string) {
	ctx.SetHeader("Content-Type", "application/json")
	ctx.SetStatus(status)
	_ = json.NewEncoder(ctx.BodyWriter()).Encode(errorBody{Kind: kind, Message: msg})
}
