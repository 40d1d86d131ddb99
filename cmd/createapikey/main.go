// Command createapikey mints an operator API key under the system account,
// bypassing billing. Intended for bootstrap and internal integrations.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/domain/account"
	"github.com/finbridge/marketgate/internal/domain/apikey"
	"github.com/finbridge/marketgate/internal/storage/postgres"
	"github.com/finbridge/marketgate/internal/util"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	label := os.Getenv("KEY_LABEL")
	if label == "" {
		label = "operator"
	}

	rawKey, keyHash, err := util.GenerateAPIKey()
	if err != nil {
		log.Fatalf("Failed to generate API key: %v", err)
	}

	logger, _ := zap.NewDevelopment()
	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	defer pool.Close()

	ctx := context.Background()

	if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	accountRepo := postgres.NewAccountRepository(pool, logger)
	systemAccount, err := accountRepo.FindByEmail(ctx, account.BootstrapEmail)
	if err != nil {
		if _, createErr := accountRepo.Create(ctx, &account.Account{
			Email:        account.BootstrapEmail,
			PasswordHash: "!",
		}); createErr != nil {
			log.Fatalf("Failed to create system account: %v", createErr)
		}
		systemAccount, err = accountRepo.FindByEmail(ctx, account.BootstrapEmail)
		if err != nil {
			log.Fatalf("Failed to load system account: %v", err)
		}
	}

	keyRepo := postgres.NewAPIKeyRepository(pool, logger)
	keyID, err := keyRepo.Create(ctx, &apikey.APIKey{
		KeyHash:   keyHash,
		AccountID: systemAccount.ID,
		Label:     label,
		Status:    apikey.StatusActive,
	})
	if err != nil {
		log.Fatalf("Failed to save API key to database: %v", err)
	}

	fmt.Printf("Generated API Key (SAVE THIS securely!):\n%s\n\n", rawKey)
	fmt.Printf("Key Hash: %s\n", keyHash)
	fmt.Printf("\nAPI Key saved to database with ID: %d\n", keyID)
}
