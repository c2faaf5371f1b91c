package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	routex "github.com/dctx/routex/internal"
	"github.com/dctx/routex/internal/config"
)

// oauthEndpoints maps a channel vendor to its well-known OAuth2 endpoint.
// Only vendors that support OAuth-style channel credentials get an entry;
// anthropic/zhipu/custom channels use a static API key instead.
var oauthEndpoints = map[string]oauth2.Endpoint{
	"google": google.Endpoint,
	"azure":  microsoft.AzureADEndpoint("common"),
}

// BuildOAuthProviders turns config.OAuthConfig into ready-to-use oauth2.Config
// values, one per registered vendor, grounded on cloudauth's existing
// golang.org/x/oauth2 usage for outbound channel credentials.
func BuildOAuthProviders(cfg config.OAuthConfig) map[string]*oauth2.Config {
	out := make(map[string]*oauth2.Config, len(cfg.Providers))
	for name, p := range cfg.Providers {
		endpoint, ok := oauthEndpoints[name]
		if !ok {
			continue
		}
		out[name] = &oauth2.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  p.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email"},
		}
	}
	return out
}

// handleListOAuthProviders returns the vendor names registered for the
// admin-side OAuth authorize/callback flow.
func (s *server) handleListOAuthProviders(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.deps.OAuthProviders))
	for name := range s.deps.OAuthProviders {
		names = append(names, name)
	}
	writeJSON(w, http.StatusOK, dataResponse(names))
}

// handleOAuthAuthorize redirects the admin's browser to the vendor's consent
// screen. The channel to attach the resulting session to is passed as
// ?channel_id=, round-tripped through the OAuth2 state parameter since
// vendors echo state back verbatim on callback.
func (s *server) handleOAuthAuthorize(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	cfg, ok := s.deps.OAuthProviders[provider]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse("unknown oauth provider"))
		return
	}
	state := r.URL.Query().Get("channel_id") + ":" + randomState()
	http.Redirect(w, r, cfg.AuthCodeURL(state), http.StatusFound)
}

func randomState() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// handleOAuthCallback exchanges the vendor's authorization code for tokens
// and persists an OAuthSession, keyed by the channel_id carried in state.
func (s *server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	cfg, ok := s.deps.OAuthProviders[provider]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse("unknown oauth provider"))
		return
	}
	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("missing code or state"))
		return
	}
	channelID, _, _ := splitState(state)

	tok, err := cfg.Exchange(r.Context(), code)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse("token exchange failed"))
		return
	}

	sess := &routex.OAuthSession{
		ID:           uuid.Must(uuid.NewV7()).String(),
		ChannelID:    channelID,
		Provider:     provider,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := s.deps.Store.UpsertOAuthSession(r.Context(), sess); err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse(sess))
}

func splitState(state string) (channelID, nonce string, ok bool) {
	for i := 0; i < len(state); i++ {
		if state[i] == ':' {
			return state[:i], state[i+1:], true
		}
	}
	return "", state, false
}

// handleGetOAuthSession returns the persisted session for a channel.
func (s *server) handleGetOAuthSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.deps.Store.GetOAuthSession(r.Context(), id)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse(sess))
}

// handleDeleteOAuthSession revokes a channel's stored OAuth session.
func (s *server) handleDeleteOAuthSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.DeleteOAuthSession(r.Context(), id); err != nil {
		writeAdminError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
