package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"paylink.io/internal/app"
	"paylink.io/pkg/config"
)

func main() {
	configName := flag.String("config", "paylink", "config file name without extension, searched in ./config and .")
	flag.Parse()

	// Ctrl+C and kubernetes stop signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfg app.Config
	if _, err := config.LoadAndWatch(*configName, &cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init paylink: %v", err)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		log.Printf("paylink stopped: %v", err)
	}
	log.Println("paylink exit")
}
