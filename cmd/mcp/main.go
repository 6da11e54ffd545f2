package main

import (
	"fmt"
	"os"

	"github.com/persona-labs/persona/internal/mcp"
)

func main() {
	serverURL := os.Getenv("PERSONA_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8742"
	}
	authToken := os.Getenv("PERSONA_AUTH_TOKEN")

	server := mcp.NewServer(serverURL, authToken)
	if err := server.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "mcp server error: %s\n", err)
		os.Exit(1)
	}
}
