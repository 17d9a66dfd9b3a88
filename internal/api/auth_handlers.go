package api

import (
	"log"
	"net/http"
	"time"

	"github.com/ohmvision/camconnect/internal/auth"
	"github.com/ohmvision/camconnect/internal/middleware"
)

type AuthHandler struct {
	Blacklist auth.TokenBlacklist
}

func NewAuthHandler(b auth.TokenBlacklist) *AuthHandler {
	if b == nil {
		b = auth.NoopBlacklist{}
	}
	return &AuthHandler{Blacklist: b}
}

// Logout revokes the caller's token for the rest of its lifetime.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok || ac.TokenID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ttl := time.Until(ac.ExpiresAt)
	if ttl <= 0 {
		// Already expired; nothing to revoke.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.Blacklist.AddToBlacklist(r.Context(), ac.TokenID, ttl); err != nil {
		log.Printf("Auth: blacklist token %s failed: %v", ac.TokenID, err)
		http.Error(w, "logout failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
