// Command import-events replays a relay fallback file into the off-chain
// event store. Safe to re-run: rows already present are skipped by the
// store's conflict handling.
package main

import (
	"context"
	"flag"

	"github.com/ShanRaboy11/unitap/config"
	"github.com/ShanRaboy11/unitap/pkg/logger"
	"github.com/ShanRaboy11/unitap/relay"
	"github.com/ShanRaboy11/unitap/repository"
)

var (
	filePath string
	envFile  string
)

func init() {
	flag.StringVar(&filePath, "file", "", "Fallback file to import (defaults to FALLBACK_FILE)")
	flag.StringVar(&envFile, "env-file", "", "Optional dotenv file for configuration")
}

func main() {
	flag.Parse()

	if err := config.Load(envFile); err != nil {
		logger.Fatal(err)
	}
	cfg := config.Get()

	if filePath == "" {
		filePath = cfg.FallbackFile
	}

	// Unlike the node, the importer has nothing to do without a store.
	repo := repository.NewRepository()
	if err := repo.ConnectDB(cfg.DatabaseURL); err != nil {
		logger.Fatal(err, "dsn", cfg.DatabaseURL)
	}
	defer repo.Close()
	if err := repo.Migrate(); err != nil {
		logger.Fatal(err)
	}

	importer := relay.NewImporter(repo)
	imported, skipped, err := importer.ImportFile(context.Background(), filePath)
	if err != nil {
		logger.Fatal(err, "file", filePath)
	}

	logger.Info("import finished", "file", filePath, "imported", imported, "skipped", skipped)
}
