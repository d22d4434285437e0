package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/luminahq/lumina/internal/adapters/repository"
	"github.com/luminahq/lumina/internal/config"
	"github.com/luminahq/lumina/internal/core/domain"
	"github.com/luminahq/lumina/internal/core/ports"
)

func main() {
	configPath := os.Getenv("LUMINA_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, closeStore, err := repository.Open(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer func() {
		if errClose := closeStore(); errClose != nil {
			log.Printf("failed to close store: %v", errClose)
		}
	}()

	if err := run(os.Args, os.Stdout, store); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer, store ports.APIKeyStore) error {
	createCmd := flag.NewFlagSet("create", flag.ContinueOnError)
	name := createCmd.String("name", "generic-key", "Description of the key")
	days := createCmd.Int("days", 365, "Validity in days, 0 for no expiry")

	revokeCmd := flag.NewFlagSet("revoke", flag.ContinueOnError)
	revokeID := revokeCmd.String("id", "", "API key UUID to revoke")

	if len(args) < 2 {
		return fmt.Errorf("expected 'create', 'list' or 'revoke' subcommands")
	}

	switch args[1] {
	case "create":
		if err := createCmd.Parse(args[2:]); err != nil {
			return err
		}
		return generateKey(store, *name, *days, out)
	case "list":
		return listKeys(store, out)
	case "revoke":
		if err := revokeCmd.Parse(args[2:]); err != nil {
			return err
		}
		return revokeKey(store, *revokeID, out)
	default:
		return fmt.Errorf("unknown subcommand: %s", args[1])
	}
}

func generateKey(store ports.APIKeyStore, name string, days int, out io.Writer) error {
	rawKey := make([]byte, 16)
	if _, err := rand.Read(rawKey); err != nil {
		return err
	}
	keyString := "lmn_" + hex.EncodeToString(rawKey)

	hash := sha256.Sum256([]byte(keyString))
	keyHash := hex.EncodeToString(hash[:])

	apiKey := &domain.APIKey{
		ID:        uuid.New().String(),
		Name:      name,
		KeyHash:   keyHash,
		KeyPrefix: keyString[:8],
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if days > 0 {
		expiresAt := time.Now().UTC().AddDate(0, 0, days)
		apiKey.ExpiresAt = &expiresAt
	}

	if err := store.CreateAPIKey(context.Background(), apiKey); err != nil {
		return fmt.Errorf("failed to save API key: %w", err)
	}

	fmt.Fprintf(out, "API Key Created Successfully!\n")
	fmt.Fprintf(out, "---------------------------\n")
	fmt.Fprintf(out, "ID:         %s\n", apiKey.ID)
	fmt.Fprintf(out, "Name:       %s\n", name)
	if apiKey.ExpiresAt != nil {
		fmt.Fprintf(out, "Expires:    %s\n", apiKey.ExpiresAt.Format(time.RFC3339))
	} else {
		fmt.Fprintf(out, "Expires:    never\n")
	}
	fmt.Fprintf(out, "VALUE:      %s\n", keyString)
	fmt.Fprintf(out, "---------------------------\n")
	fmt.Fprintf(out, "CAUTION: This is the only time the key will be shown.\n")
	return nil
}

func listKeys(store ports.APIKeyStore, out io.Writer) error {
	keys, err := store.ListAPIKeys(context.Background())
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%-36s %-20s %-10s %-8s\n", "ID", "Name", "Prefix", "Status")
	for _, k := range keys {
		status := "active"
		if !k.Active {
			status = "revoked"
		}
		fmt.Fprintf(out, "%-36s %-20s %-10s %-8s\n", k.ID, k.Name, k.KeyPrefix, status)
	}
	return nil
}

func revokeKey(store ports.APIKeyStore, id string, out io.Writer) error {
	if id == "" {
		return fmt.Errorf("id is required for revocation")
	}
	if err := store.RevokeAPIKey(context.Background(), id); err != nil {
		return err
	}
	fmt.Fprintf(out, "API Key %s revoked\n", id)
	return nil
}
