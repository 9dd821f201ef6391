package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/dmitrijs2005/camwatch/internal/server"
	"github.com/dmitrijs2005/camwatch/internal/server/config"
)

func main() {

	// A missing .env file is fine; configuration then comes from the real
	// environment, the JSON file and flags.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("loading .env: %v", err)
	}

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
