package cli

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"net/url"

	oauth "github.com/giantswarm/oauth2-stateless"
	"github.com/giantswarm/oauth2-stateless/security"
	"github.com/giantswarm/oauth2-stateless/storage"
)

// Form values posted by the confirmation page
const (
	decisionParam = "decision"
	decisionAllow = "allow"
	decisionDeny  = "deny"
)

// authorizeParams are carried through the confirmation form
var authorizeParams = []string{"response_type", "client_id", "redirect_uri", "scope", "state"}

var confirmPage = template.Must(template.New("confirm").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Authorize {{.ClientID}}</title>
<style>
body { font-family: sans-serif; max-width: 420px; margin: 60px auto; }
label, input { display: block; width: 100%; margin-bottom: 8px; }
.error { color: #b00020; }
</style>
</head>
<body>
<h1>Authorize {{.ClientID}}</h1>
{{if .Scopes}}<p>The application requests access to:</p>
<ul>{{range .Scopes}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .Failed}}<p class="error">Invalid username or password.</p>{{end}}
<form method="post" action="{{.Action}}">
{{range $name, $value := .Hidden}}<input type="hidden" name="{{$name}}" value="{{$value}}">
{{end}}<label>Username <input name="username" autocomplete="username"></label>
<label>Password <input name="password" type="password" autocomplete="current-password"></label>
<button name="decision" value="allow" type="submit">Allow</button>
<button name="decision" value="deny" type="submit">Deny</button>
</form>
</body>
</html>
`))

type confirmData struct {
	ClientID string
	Scopes   []string
	Action   string
	Hidden   map[string]string
	Failed   bool
}

// Site authenticates resource owners against the users in the config file.
// On the authorization endpoint it also asks them to allow or deny the
// client; the password grant only checks credentials.
type Site struct {
	users         map[string]UserConfig
	authorizePath string
	auditor       *security.Auditor
}

var (
	_ oauth.AuthorizeSiteAdapter = (*Site)(nil)
	_ oauth.ConfirmationRenderer = (*Site)(nil)
)

// NewSite creates the site adapter
func NewSite(users []UserConfig, authorizePath string, auditor *security.Auditor) *Site {
	s := &Site{users: make(map[string]UserConfig, len(users)), authorizePath: authorizePath, auditor: auditor}
	for _, u := range users {
		s.users[u.Username] = u
	}
	return s
}

// Authenticate implements oauth.Authenticator
func (s *Site) Authenticate(ctx context.Context, req *oauth.Request, _ []string, client *storage.Client) (*oauth.Identity, error) {
	if req.Path == s.authorizePath && (req.Method != http.MethodPost || req.PostParam(decisionParam) != decisionAllow) {
		return nil, oauth.ErrUserNotAuthenticated
	}

	username := req.PostParam("username")
	user, ok := s.users[username]
	if !ok || username == "" || !storage.HashedSecret(user.PasswordHash).Verify(req.PostParam("password")) {
		return nil, oauth.ErrUserNotAuthenticated
	}

	s.auditor.LogEvent(ctx, security.Event{
		Type:      security.EventUserAuthenticated,
		UserID:    username,
		ClientID:  client.ClientID,
		IPAddress: req.RemoteAddr,
	})
	return &oauth.Identity{UserID: username, Data: user.Data}, nil
}

// UserHasDeniedAccess implements oauth.DenialDetector
func (s *Site) UserHasDeniedAccess(_ context.Context, req *oauth.Request) bool {
	return req.Method == http.MethodPost && req.PostParam(decisionParam) == decisionDeny
}

// RenderAuthPage implements oauth.ConfirmationRenderer
func (s *Site) RenderAuthPage(_ context.Context, req *oauth.Request, scopes []string, client *storage.Client) (*oauth.Response, error) {
	data := confirmData{
		ClientID: client.ClientID,
		Scopes:   scopes,
		Action:   (&url.URL{Path: req.Path}).String(),
		Hidden:   make(map[string]string, len(authorizeParams)),
		Failed:   req.Method == http.MethodPost && req.PostParam("username") != "",
	}
	for _, name := range authorizeParams {
		if v := req.Param(name); v != "" {
			data.Hidden[name] = v
		}
	}

	var body bytes.Buffer
	if err := confirmPage.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("failed to render confirmation page: %w", err)
	}

	resp := oauth.NewResponse()
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	resp.Body = body.Bytes()
	return resp, nil
}
