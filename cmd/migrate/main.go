package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/luminahq/lumina/internal/adapters/repository"
	"github.com/luminahq/lumina/internal/config"
	"github.com/luminahq/lumina/internal/core/domain"
	"github.com/luminahq/lumina/internal/core/ports"
)

func main() {
	from := flag.String("from", "", "Source store, e.g. json:data/licenses.json, sqlite:data/licenses.db or postgres:<dsn>")
	to := flag.String("to", "", "Destination store, same syntax as -from")
	flag.Parse()

	if *from == "" || *to == "" {
		log.Fatal("both -from and -to are required")
	}

	src, closeSrc, err := openTarget(*from)
	if err != nil {
		log.Fatalf("failed to open source: %v", err)
	}
	defer closeQuiet(closeSrc)

	dst, closeDst, err := openTarget(*to)
	if err != nil {
		log.Fatalf("failed to open destination: %v", err)
	}
	defer closeQuiet(closeDst)

	if err := migrate(src, dst, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func closeQuiet(closer func() error) {
	if err := closer(); err != nil {
		log.Printf("failed to close store: %v", err)
	}
}

// parseTarget turns "backend:location" into a storage config.
func parseTarget(target string) (config.StorageConfig, error) {
	backend, location, found := strings.Cut(target, ":")
	if !found || location == "" {
		return config.StorageConfig{}, fmt.Errorf("malformed target %q, want backend:location", target)
	}
	switch backend {
	case config.BackendJSON:
		return config.StorageConfig{Backend: backend, JSONPath: location}, nil
	case config.BackendSQLite:
		return config.StorageConfig{Backend: backend, SQLitePath: location}, nil
	case config.BackendPostgres:
		return config.StorageConfig{Backend: backend, PostgresDSN: location}, nil
	default:
		return config.StorageConfig{}, fmt.Errorf("unknown backend %q", backend)
	}
}

func openTarget(target string) (ports.Store, func() error, error) {
	cfg, err := parseTarget(target)
	if err != nil {
		return nil, nil, err
	}
	return repository.Open(cfg)
}

// migrate copies every license verbatim, activation ledger and timestamps
// included. Licenses already present in the destination are skipped.
func migrate(src, dst ports.Store, out io.Writer) error {
	ctx := context.Background()

	licenses, err := src.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	var copied, skipped int
	for i := range licenses {
		lic := licenses[i]
		if err := dst.Create(ctx, &lic); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				fmt.Fprintf(out, "skipping %s: already exists\n", lic.Key)
				skipped++
				continue
			}
			return fmt.Errorf("write %s: %w", lic.Key, err)
		}
		copied++
	}

	keys, err := src.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("read source api keys: %w", err)
	}
	var keysCopied int
	for i := range keys {
		key := keys[i]
		if err := dst.CreateAPIKey(ctx, &key); err != nil {
			fmt.Fprintf(out, "skipping api key %s: %v\n", key.ID, err)
			continue
		}
		keysCopied++
	}

	fmt.Fprintf(out, "migrated %d licenses (%d skipped), %d api keys\n", copied, skipped, keysCopied)
	return nil
}
