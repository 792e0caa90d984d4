package main

import (
	"log"

	"github.com/statelylabs/sqlgate/internal/gateway/app"
)

func main() {
	cfg := app.LoadConfig()

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize gateway: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("gateway error: %v", err)
	}
}
