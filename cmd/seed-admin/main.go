package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"github.com/bilheteria/backend/internal/config"
	"github.com/bilheteria/backend/internal/database"
	"github.com/bilheteria/backend/internal/services"
	"github.com/bilheteria/backend/internal/store"
)

// One-shot CLI: creates a back-office operator account. Run once per
// environment to bootstrap the first admin.
func main() {
	email := flag.String("email", "", "admin email (required)")
	name := flag.String("name", "", "admin display name (required)")
	password := flag.String("password", "", "initial password (required, min 8 chars)")
	flag.Parse()

	if *email == "" || *name == "" || len(*password) < 8 {
		log.Fatal("usage: seed-admin -email ops@example.com -name 'Ops' -password <min 8 chars>")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	hash, err := services.HashPassword(cfg.Argon2, *password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	admins := store.NewAdmins(db)
	id, err := admins.Create(context.Background(), strings.ToLower(*email), *name, hash)
	if err != nil {
		log.Fatalf("Failed to create admin: %v", err)
	}

	log.Printf("Admin created: id=%d email=%s", id, *email)
}
