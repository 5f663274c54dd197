package oauth

import (
	"net/http"
	"testing"
)

func TestOAuthError_Error(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		description string
		want        string
	}{
		{
			name:        "simple error",
			code:        "invalid_request",
			description: "Missing required parameter",
			want:        "invalid_request: Missing required parameter",
		},
		{
			name:        "error with empty description",
			code:        "server_error",
			description: "",
			want:        "server_error: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &OAuthError{
				Code:        tt.code,
				Description: tt.description,
			}
			if got := e.Error(); got != tt.want {
				t.Errorf("OAuthError.Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *OAuthError
		wantCode   string
		wantStatus int
	}{
		{"invalid request", ErrInvalidRequest("x"), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"invalid grant", ErrInvalidGrant("x"), ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"invalid client", ErrInvalidClient("x"), ErrorCodeInvalidClient, http.StatusUnauthorized},
		{"invalid scope", ErrInvalidScope("x"), ErrorCodeInvalidScope, http.StatusBadRequest},
		{"invalid token", ErrInvalidToken("x"), ErrorCodeInvalidToken, http.StatusUnauthorized},
		{"unauthorized client", ErrUnauthorizedClient("x"), ErrorCodeUnauthorizedClient, http.StatusBadRequest},
		{"unsupported grant type", ErrUnsupportedGrantType("x"), ErrorCodeUnsupportedGrantType, http.StatusBadRequest},
		{"unsupported response type", ErrUnsupportedResponseType("x"), ErrorCodeUnsupportedResponseType, http.StatusBadRequest},
		{"access denied", ErrAccessDenied("x"), ErrorCodeAccessDenied, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.wantStatus)
			}
			if tt.err.Description != "x" {
				t.Errorf("Description = %q, want x", tt.err.Description)
			}
		})
	}
}

func TestOAuthError_WithRedirect(t *testing.T) {
	base := ErrAccessDenied("denied")
	redirected := base.WithRedirect("https://cb", "s", true)

	if base.RedirectURI() != "" {
		t.Error("WithRedirect must not modify the receiver")
	}
	if redirected.RedirectURI() != "https://cb" || redirected.state != "s" || !redirected.fragment {
		t.Errorf("redirected = %+v", redirected)
	}
	if redirected.Code != base.Code {
		t.Errorf("Code = %q, want %q", redirected.Code, base.Code)
	}
}

func TestErrorResponse_Redirect(t *testing.T) {
	p := &Provider{}

	resp, err := p.errorResponse(ErrAccessDenied("user said no").WithRedirect("https://cb?keep=1", "abc", false))
	mustNoError(t, err)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	want := "https://cb?error=access_denied&error_description=user+said+no&keep=1&state=abc"
	if got := resp.Header.Get("Location"); got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}

	resp, err = p.errorResponse(ErrAccessDenied("no").WithRedirect("https://cb", "", true))
	mustNoError(t, err)
	if got := resp.Header.Get("Location"); got != "https://cb#error=access_denied&error_description=no" {
		t.Errorf("Location = %q", got)
	}
}

func TestErrorResponse_Body(t *testing.T) {
	p := &Provider{}

	resp, err := p.errorResponse(&OAuthError{Code: "custom", Description: "d"})
	mustNoError(t, err)
	assertOAuthError(t, resp, http.StatusBadRequest, "custom")

	resp, err = p.errorResponse(ErrInvalidToken("gone"))
	mustNoError(t, err)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Error("invalid_token should carry a Bearer challenge")
	}
	if decodeJSON(t, resp)["error_description"] != "gone" {
		t.Error("error_description should be rendered")
	}
}
