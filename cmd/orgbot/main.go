package main

import (
	"context"
	"log"

	"github.com/polyctf/orgbot/internal/app"
	"github.com/polyctf/orgbot/internal/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	a, err := app.NewApp(cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	a.Run(ctx)

}
