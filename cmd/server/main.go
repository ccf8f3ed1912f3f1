package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/tradeauth/internal/server"
	"github.com/dmitrijs2005/tradeauth/internal/server/config"
)

func main() {
	ctx := context.Background()

	app, err := server.NewApp(ctx, config.LoadConfig())
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	app.Run(ctx)
}
