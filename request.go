package oauth

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/go-querystring/query"
)

// Request is a framework-neutral view of an incoming HTTP request. Web
// adapters build one from their native request type.
type Request struct {
	Method     string
	Path       string
	Query      url.Values
	Form       url.Values
	Header     http.Header
	RemoteAddr string
}

// GetParam returns a query string parameter
func (r *Request) GetParam(key string) string {
	return r.Query.Get(key)
}

// PostParam returns a body parameter
func (r *Request) PostParam(key string) string {
	return r.Form.Get(key)
}

// Param returns the query parameter, falling back to the body. The
// authorization endpoint accepts both GET and form POST.
func (r *Request) Param(key string) string {
	if v := r.Query.Get(key); v != "" {
		return v
	}
	return r.Form.Get(key)
}

// HeaderValue returns a request header
func (r *Request) HeaderValue(key string) string {
	return r.Header.Get(key)
}

// ParseBody decodes a request body into form values. JSON objects are
// accepted next to application/x-www-form-urlencoded; arrays are joined with
// spaces so "scope": ["a", "b"] reads like scope=a+b.
func ParseBody(contentType string, body []byte) (url.Values, error) {
	if len(body) == 0 {
		return url.Values{}, nil
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType != "application/json" {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("failed to parse form body: %w", err)
		}
		return values, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse JSON body: %w", err)
	}
	values := url.Values{}
	for key, v := range raw {
		if s, ok := jsonScalar(v); ok {
			values.Set(key, s)
			continue
		}
		if list, ok := v.([]any); ok {
			parts := make([]string, 0, len(list))
			for _, item := range list {
				if s, ok := jsonScalar(item); ok {
					parts = append(parts, s)
				}
			}
			values.Set(key, strings.Join(parts, " "))
		}
	}
	return values, nil
}

func jsonScalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// Response is what Dispatch produces. Web adapters copy it to their native
// response writer verbatim.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewResponse returns an empty 200 response
func NewResponse() *Response {
	return &Response{StatusCode: http.StatusOK, Header: http.Header{}}
}

// jsonResponse encodes v with the no-store headers required for token responses
func jsonResponse(status int, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	resp := NewResponse()
	resp.StatusCode = status
	resp.Body = body
	resp.Header.Set("Content-Type", "application/json")
	resp.Header.Set("Cache-Control", "no-store")
	resp.Header.Set("Pragma", "no-cache")
	return resp, nil
}

// ServerErrorResponse is the 500 answer adapters send when Dispatch fails.
// It never carries the underlying error.
func ServerErrorResponse() *Response {
	resp := NewResponse()
	resp.StatusCode = http.StatusInternalServerError
	resp.Header.Set("Content-Type", "application/json")
	resp.Header.Set("Cache-Control", "no-store")
	resp.Body = []byte(`{"error":"` + ErrorCodeServerError + `","error_description":"internal server error"}`)
	return resp
}

// InvalidRequestResponse is the 400 answer adapters send for requests they
// cannot translate, such as a malformed body
func InvalidRequestResponse(description string) *Response {
	resp, err := jsonResponse(http.StatusBadRequest, ErrorResponse{Error: ErrorCodeInvalidRequest, ErrorDescription: description})
	if err != nil {
		return ServerErrorResponse()
	}
	return resp
}

// redirectResponse returns a 302 to location
func redirectResponse(location string) *Response {
	resp := NewResponse()
	resp.StatusCode = http.StatusFound
	resp.Header.Set("Location", location)
	resp.Header.Set("Cache-Control", "no-store")
	return resp
}

// buildRedirect encodes params (a struct with url tags) onto redirectURI.
// Existing query parameters on a registered redirect URI are preserved.
func buildRedirect(redirectURI string, params any, fragment bool) (string, error) {
	values, err := query.Values(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode redirect parameters: %w", err)
	}

	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URI: %w", err)
	}

	if fragment {
		u.Fragment = ""
		u.RawFragment = ""
		return u.String() + "#" + values.Encode(), nil
	}

	q := u.Query()
	for key, vs := range values {
		for _, v := range vs {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
