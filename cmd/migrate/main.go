// Command migrate applies the embedded schema migrations.
package main

import (
	"flag"
	"fmt"
	"os"

	"marketplace/cmd/internal/app"
	"marketplace/cmd/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", migrate.DirectionUp, "migration direction: up or down")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
