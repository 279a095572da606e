// Command webhookgate-keys provisions and revokes ingest API keys.
//
// The plaintext secret is printed exactly once at creation time; only its
// SHA-256 digest is stored, so the secret cannot be recovered later.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BTreeMap/WebhookGate/internal/models"
	"github.com/BTreeMap/WebhookGate/internal/store"
	"github.com/BTreeMap/WebhookGate/internal/util"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// SecretHexLength is the hex length of generated plaintext secrets.
const SecretHexLength = 32

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	defaultDSN := os.Getenv("DATABASE_URL")
	if defaultDSN == "" {
		stateDir := os.Getenv("WEBHOOKGATE_STATE_DIR")
		if stateDir == "" {
			stateDir = "/var/lib/webhookgate"
		}
		defaultDSN = filepath.Join(stateDir, "webhookgate.db")
	}

	label := flag.String("label", "manual", "human-readable label for the new key")
	plan := flag.String("plan", "starter", "plan to record on the new key")
	deactivate := flag.String("deactivate", "", "deactivate the key with this ID instead of creating one")
	dbDSN := flag.String("db-dsn", defaultDSN, "database DSN: SQLite path or Postgres URL (overrides $DATABASE_URL)")
	flag.Parse()

	st, err := store.Connect(*dbDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()

	if *deactivate != "" {
		if err := st.DeactivateAPIKey(ctx, *deactivate); err != nil {
			fmt.Fprintf(os.Stderr, "failed to deactivate key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deactivated API key %s\n", *deactivate)
		return
	}

	secretHex, err := util.GenerateSecureHex(SecretHexLength)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate secret: %v\n", err)
		os.Exit(1)
	}
	plaintext := "wgk_" + secretHex

	key := models.ApiKey{
		ID:       uuid.NewString(),
		KeyHash:  util.HashAPIKey(plaintext),
		Label:    *label,
		Plan:     *plan,
		IsActive: true,
	}
	if err := st.InsertAPIKey(ctx, key); err != nil {
		fmt.Fprintf(os.Stderr, "failed to insert key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Created API key:")
	fmt.Println(plaintext)
	fmt.Println()
	fmt.Printf("id: %s label: %s plan: %s\n", key.ID, key.Label, key.Plan)
	fmt.Println("Store this plaintext key now. It cannot be recovered later.")
}
