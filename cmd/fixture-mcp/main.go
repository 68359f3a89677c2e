// Command fixture-mcp runs the warehouse fixture MCP server over stdio.
// Point sandbox.image at a container built from it, or run it directly when
// developing against a local runtime.
package main

import (
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/sergioferragut/data-chat/pkg/mcpserver/fixture"
)

func main() {
	catalogue, err := fixture.LoadCatalogue(os.Getenv("FIXTURE_CATALOGUE"))
	if err != nil {
		log.Fatal(err)
	}
	if err := server.ServeStdio(fixture.NewServer(catalogue)); err != nil {
		log.Fatal(err)
	}
}
