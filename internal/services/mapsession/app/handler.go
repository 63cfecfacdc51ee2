// Package app is the network boundary of the map session service: the
// WebSocket endpoint that feeds the engine, the HTTP map routes, and the
// process lifecycle.
package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/dndtoolbox/toolbox/internal/platform/requestctx"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/engine"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/storage"
)

const (
	tokenCookieName = "dnd_token"
	bearerPrefix    = "bearer "

	maxFramePayloadBytes   = 256 * 1024
	maxFramesPerSecond     = 60
	maxDecodeErrorsPerConn = 3
	peerOutboundBuffer     = 128
)

// Authenticator resolves an identity token to a user id.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

// HandlerDeps are the collaborators behind the HTTP surface.
type HandlerDeps struct {
	Engine        *engine.Engine
	Sessions      storage.SessionStore
	Catalog       storage.MapCatalog
	Members       storage.MembershipStore
	Authenticator Authenticator
	// AllowedOrigins restricts WebSocket upgrades; empty allows any origin.
	AllowedOrigins []string
}

type handler struct {
	deps    HandlerDeps
	origins map[string]struct{}
}

// NewHandler builds the service routes.
func NewHandler(deps HandlerDeps) (http.Handler, error) {
	if deps.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if deps.Sessions == nil || deps.Catalog == nil || deps.Members == nil {
		return nil, errors.New("stores are required")
	}
	if deps.Authenticator == nil {
		return nil, errors.New("authenticator is required")
	}
	h := &handler{deps: deps, origins: make(map[string]struct{}, len(deps.AllowedOrigins))}
	for _, origin := range deps.AllowedOrigins {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			h.origins[strings.ToLower(origin)] = struct{}{}
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/ws", h.serveWS)
	mux.HandleFunc("GET /maps", h.requireUser(h.listMaps))
	mux.HandleFunc("POST /maps", h.requireUser(h.createMap))
	mux.HandleFunc("GET /maps/{id}", h.requireUser(h.getMap))
	mux.HandleFunc("DELETE /maps/{id}", h.requireUser(h.deleteMap))
	mux.HandleFunc("POST /maps/{id}/visibility", h.requireUser(h.setVisibility))
	mux.HandleFunc("POST /maps/{id}/state", h.requireUser(h.saveState))
	return mux, nil
}

// accessTokenFromRequest reads the identity token from the session cookie or
// an Authorization bearer header.
func accessTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if cookie, err := r.Cookie(tokenCookieName); err == nil {
		if token := strings.TrimSpace(cookie.Value); token != "" {
			return token
		}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(header[len(bearerPrefix):])
	}
	return ""
}

// authenticate returns a request context carrying the caller's user id. A
// request without a token yields an anonymous context; a bad token fails.
func (h *handler) authenticate(r *http.Request) (context.Context, error) {
	token := accessTokenFromRequest(r)
	if token == "" {
		return r.Context(), nil
	}
	userID, err := h.deps.Authenticator.Authenticate(token)
	if err != nil {
		return nil, err
	}
	return requestctx.WithUserID(r.Context(), strings.TrimSpace(userID)), nil
}

func (h *handler) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, err := h.authenticate(r)
		if err != nil {
			log.Printf("mapsession: http unauthorized path=%q remote=%s err=%v", r.URL.Path, r.RemoteAddr, err)
			writeHTTPError(w, r, err)
			return
		}
		if requestctx.UserIDFromContext(ctx) == "" {
			writeHTTPError(w, r, errUnauthenticated)
			return
		}
		next(w, r.WithContext(ctx))
	}
}
