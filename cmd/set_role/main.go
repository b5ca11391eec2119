package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/saiproject-202/ClassVibe/internal/database"
	"github.com/saiproject-202/ClassVibe/internal/model"
	"github.com/saiproject-202/ClassVibe/internal/store"
)

func main() {
	var email, role string

	flagSet := pflag.NewFlagSet("set_role", pflag.ExitOnError)
	flagSet.StringVar(&email, "email", "", "account email")
	flagSet.StringVar(&role, "role", "teacher", "new role: teacher, student or admin")
	flagSet.Parse(os.Args[1:])

	if email == "" {
		fmt.Fprintln(os.Stderr, "usage: set_role --email user@example.com --role teacher")
		os.Exit(2)
	}
	newRole := model.Role(strings.ToLower(role))
	if newRole != model.ParseRole(string(newRole)) {
		log.Fatalf("unknown role %q", role)
	}

	// Load environment variables
	_ = godotenv.Load(".env")

	db, err := database.ConnectDB()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := store.NewGormStore(db)
	user, err := s.FindUserByEmail(ctx, strings.ToLower(email))
	if err != nil {
		log.Fatalf("Failed to find %s: %v", email, err)
	}
	if user.IsGuest && newRole != model.RoleStudent {
		log.Fatalf("%s is a guest account and cannot moderate sessions", email)
	}

	if err := s.UpdateUserRole(ctx, user.ID, newRole); err != nil {
		log.Fatalf("Failed to update role: %v", err)
	}
	log.Printf("✅ %s is now %s (was %s)", email, newRole, user.Role)
}
