package server

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"crmgate/internal/oauth"
	"crmgate/pkg/logging"
)

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	authURL, _ := s.authorizer.AuthURL()
	logging.Info("OAuth", "Redirecting to CRM consent page")
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback redeems the authorization code sent back by the CRM.
// Browsers get an HTML page, API clients the JSON envelope.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")

	if errParam := q.Get("error"); errParam != "" {
		logging.Warn("OAuth", "Authorization denied: %s", errParam)
		s.renderCallback(w, r, http.StatusBadRequest, "Authorization was denied: "+errParam)
		return
	}
	if state == "" || !s.authorizer.ValidateState(state) {
		s.renderCallback(w, r, http.StatusBadRequest, "Invalid state parameter")
		return
	}
	if code == "" {
		s.renderCallback(w, r, http.StatusBadRequest, "Authorization code not provided")
		return
	}

	// The CRM reports the account the user consented for.
	if referer := q.Get("referer"); referer != "" && !strings.EqualFold(referer, s.cfg.CRM.Domain) {
		logging.Warn("OAuth", "Authorization came from account %s, configured domain is %s", referer, s.cfg.CRM.Domain)
	}

	if err := s.tokens.ExchangeAuthorizationCode(r.Context(), code); err != nil {
		status := http.StatusInternalServerError
		var authErr *oauth.AuthError
		if errors.As(err, &authErr) {
			status = http.StatusBadGateway
		}
		s.renderCallback(w, r, status, "Failed to get OAuth token")
		return
	}

	s.renderCallback(w, r, http.StatusOK, "")
}

func (s *Server) handleOAuthStatus(w http.ResponseWriter, r *http.Request) {
	st := s.tokens.Status(r.Context())
	status := "not_authorized"
	if st.Authorized {
		status = "authorized"
	}
	writeSuccess(w, map[string]interface{}{
		"has_token":  st.Authorized,
		"status":     status,
		"expires_at": st.ExpiresAt,
		"expired":    st.Expired,
	}, "")
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>{{if .OK}}Authorization successful{{else}}Authorization failed{{end}}</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4rem">
{{if .OK}}<h1>Authorization successful</h1>
<p>The gateway is connected to <b>{{.Domain}}</b>. You can close this window.</p>
{{else}}<h1>Authorization failed</h1>
<p>{{.Message}}</p>
<p><a href="/oauth/authorize">Try again</a></p>{{end}}
</body>
</html>`))

func (s *Server) renderCallback(w http.ResponseWriter, r *http.Request, status int, message string) {
	ok := status == http.StatusOK

	if !strings.Contains(r.Header.Get("Accept"), "text/html") {
		if ok {
			writeSuccess(w, map[string]string{"message": "Authorization successful"}, "OAuth token received and saved")
		} else {
			writeError(w, status, message, nil)
		}
		return
	}

	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := callbackPage.Execute(w, map[string]interface{}{
		"OK":      ok,
		"Domain":  s.cfg.CRM.Domain,
		"Message": message,
	}); err != nil {
		logging.Warn("OAuth", "Failed to render callback page: %v", err)
	}
}

// setSecurityHeaders sets recommended security headers for HTML responses.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}
