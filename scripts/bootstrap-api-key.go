package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/epochapi/epochapi/internal/auth"
	"github.com/epochapi/epochapi/internal/metrics"
	"github.com/epochapi/epochapi/internal/model"
	"github.com/epochapi/epochapi/internal/repository"
	"github.com/epochapi/epochapi/internal/service"
	"github.com/epochapi/epochapi/internal/store"
	"github.com/epochapi/epochapi/internal/store/sqlite"
)

type output struct {
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	Key       string    `json:"key"`
	Plan      string    `json:"plan"`
	RateLimit int64     `json:"rate_limit"`
	CreatedAt time.Time `json:"created_at"`
}

func main() {
	var (
		backend     = flag.String("backend", envOr("STORAGE_BACKEND", "postgres"), "Storage backend: postgres or sqlite")
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		sqlitePath  = flag.String("sqlite-path", envOr("SQLITE_PATH", "epochapi.db"), "SQLite database file")
		secret      = flag.String("secret", os.Getenv("KEY_HASH_SECRET"), "Key hash secret, must match the server")
		email       = flag.String("email", "ops@epochapi.local", "Account email")
		plan        = flag.String("plan", model.PlanEnterprise, "Plan (starter, professional, enterprise)")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	keys, closeStore, err := openKeyStore(ctx, *backend, *databaseURL, *sqlitePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	defer closeStore()

	hasher, err := auth.NewKeyHasher([]byte(*secret))
	if err != nil {
		fmt.Fprintln(os.Stderr, "key hasher:", err)
		os.Exit(1)
	}

	issuer := service.NewKeyIssuer(keys, hasher, metrics.NewNoop())
	issued, err := issuer.Issue(ctx, *email, *plan)
	if err != nil {
		fmt.Fprintln(os.Stderr, "issue api key:", err)
		os.Exit(1)
	}

	out := output{
		AccountID: issued.Account.ID,
		Email:     issued.Account.Email,
		Key:       issued.Key,
		Plan:      issued.Account.Plan,
		RateLimit: issued.Account.RateLimit,
		CreatedAt: issued.Account.CreatedAt,
	}

	switch *format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintln(os.Stderr, "encode output:", err)
			os.Exit(1)
		}
	default:
		fmt.Println(out.Key)
	}
}

func openKeyStore(ctx context.Context, backend, databaseURL, sqlitePath string) (store.KeyStore, func(), error) {
	switch backend {
	case "postgres":
		if databaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required")
		}
		repo, err := repository.New(ctx, databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			repo.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repo.Accounts(), repo.Close, nil
	case "sqlite":
		db, err := sqlite.Open(ctx, sqlitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return db, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported backend %q", backend)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
