// Package testutil provides testing utilities and fixtures for the
// oauth2-stateless library: a controllable clock and client, code and token
// fixtures.
package testutil
