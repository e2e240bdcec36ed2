package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"hrcore.org/internal/migrate"
	"hrcore.org/internal/obs"
	"hrcore.org/migrations"
)

func main() {
	_ = godotenv.Load()
	logger := obs.Logger()
	defer func() { _ = logger.Sync() }()

	var (
		dsn     = flag.String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN")
		table   = flag.String("table", "schema_migrations", "Bookkeeping table name")
		timeout = flag.Duration("timeout", time.Minute, "Overall timeout")
	)
	flag.Parse()

	if *dsn == "" {
		logger.Fatal("missing DSN: provide via -dsn or DATABASE_URL")
	}
	if len(flag.Args()) == 0 {
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|status]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	mgr := migrate.NewManager(db, migrations.FS, migrate.WithMigrationsTable(*table))

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		if err == nil && len(applied) == 0 {
			logger.Info("schema up to date")
		}
		for _, name := range applied {
			fmt.Println("applied", name)
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			logger.Info("nothing to roll back")
			err = nil
		} else if err == nil {
			fmt.Println("rolled back", name)
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		logger.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		logger.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
}
