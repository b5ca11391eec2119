package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/saiproject-202/ClassVibe/internal/auth"
	"github.com/saiproject-202/ClassVibe/internal/config"
	"github.com/saiproject-202/ClassVibe/internal/database"
	"github.com/saiproject-202/ClassVibe/internal/service"
	"github.com/saiproject-202/ClassVibe/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var maxAge time.Duration
	var dryRun bool

	flagSet := pflag.NewFlagSet("sweep", pflag.ContinueOnError)
	flagSet.DurationVar(&maxAge, "max-age", 0, "end active sessions created longer ago than this (0 keeps all sessions)")
	flagSet.BoolVar(&dryRun, "dry-run", false, "only report what would be closed or ended")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	// .env 파일 로드 (없어도 진행)
	_ = godotenv.Load()
	cfg := config.FromEnv()

	db, err := database.ConnectDB()
	if err != nil {
		return err
	}
	defer database.Close(db)

	s := store.NewGormStore(db)
	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.GuestTokenExpiry)
	classroom := service.NewClassroom(s, auth.NewGate(jwtManager, s, cfg.Session.OpTimeout), service.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res, err := classroom.Sweep(ctx, maxAge, dryRun)
	if err != nil {
		return err
	}

	if dryRun {
		log.Printf("🔍 Dry run: %d stale session(s) would be ended", len(res.StaleSessions))
	} else {
		log.Printf("🧹 Closed %d expired poll(s), ended %d stale session(s)", res.ClosedPolls, res.EndedSessions)
	}
	for _, g := range res.StaleSessions {
		log.Printf("   - %s %q (code %s, created %s)", g.ID, g.Name, g.Code, g.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `ClassVibe sweep: closes expired polls and ends stale sessions.

Usage:
  sweep [--max-age 12h] [--dry-run]

Flags:
`)
	flagSet.PrintDefaults()
}
