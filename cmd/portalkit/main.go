package main

import (
	"fmt"
	"os"

	// Fallback root certificates for environments without a system pool;
	// feed fetches and remote signing need working TLS verification.
	_ "github.com/breml/rootcerts"
)

var version = "dev"

func main() {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
