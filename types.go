package oauth

// TokenResponse is the JSON body returned by the token endpoint (RFC 6749 section 5.1)
type TokenResponse struct {
	// AccessToken is the issued access token
	AccessToken string `json:"access_token"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the remaining lifetime in seconds. Omitted for tokens that never expire.
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// RefreshToken is only present when a new refresh token was issued
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the space-separated granted scope
	Scope string `json:"scope,omitempty"`
}

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// codeRedirect holds the query parameters of a successful code authorization
type codeRedirect struct {
	Code  string `url:"code"`
	State string `url:"state,omitempty"`
}

// implicitRedirect holds the fragment parameters of an implicit grant response
type implicitRedirect struct {
	AccessToken string `url:"access_token"`
	TokenType   string `url:"token_type"`
	ExpiresIn   int64  `url:"expires_in,omitempty"`
	Scope       string `url:"scope,omitempty"`
	State       string `url:"state,omitempty"`
}

// errorRedirect holds the parameters of an error delivered to the client's redirect URI
type errorRedirect struct {
	Error            string `url:"error"`
	ErrorDescription string `url:"error_description,omitempty"`
	State            string `url:"state,omitempty"`
}
