package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"ms-event-inventory/internal/config"
	"ms-event-inventory/internal/database"
	"ms-event-inventory/internal/database/migrations"
	"ms-event-inventory/internal/logger"
)

func main() {
	dir := flag.String("dir", migrations.DefaultDir, "directory holding the SQL migrations")
	to := flag.Int("to", -1, "migrate up or down to this version")
	force := flag.Int("force", -1, "mark the schema clean at this version without running anything")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [flags] up|down|version\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log := logger.NewLogger("event-inventory-migrate")
	defer log.Close()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Invalid configuration: %v", err))
	}

	bunDB, err := database.Open(context.Background(), cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	runner := migrations.NewRunner(bunDB, *dir, log)
	// closing the runner closes bunDB as well
	defer runner.Close()

	cmd := flag.Arg(0)
	switch {
	case *force >= 0:
		err = runner.Force(*force)
	case *to >= 0:
		err = runner.To(uint(*to))
	case cmd == "up" || cmd == "":
		err = runner.Up()
	case cmd == "down":
		err = runner.Down()
	case cmd == "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = runner.Version()
		if err == nil {
			fmt.Printf("version %d dirty=%t\n", version, dirty)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		log.Error("MIGRATE", err.Error())
		runner.Close()
		os.Exit(1)
	}
}
