// Command oauth2-server runs a standalone OAuth 2.0 authorization server.
package main

import "github.com/giantswarm/oauth2-stateless/internal/cli"

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cli.Execute(version)
}
