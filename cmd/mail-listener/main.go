package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"utiles/internal/config"
	"utiles/internal/listener"
	"utiles/internal/logger"
	"utiles/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "run a single fetch/process/export cycle and exit")
	flag.Parse()

	cfg, err := config.Load()
	must(err)

	log, err := logger.New(cfg.LogMode)
	must(err)
	defer log.Sync()

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc := listener.NewService(db, cfg, log, nil)
	if *once {
		must(svc.RunCycle(ctx))
		return
	}
	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
