// The adminserver binary exposes the admin HTTP surface (§6) over the same
// composition root cmd/coordinator uses, following tarsy's cmd/tarsy/main.go
// config-dir/flag wiring and gin.Default()/router.Run idiom.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/config"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/httpapi"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/version"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/wiring"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	os.Exit(run())
}

func run() int {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "directory holding .env")
	seedFile := flag.String("seed-file", "", "optional YAML bulk source-definition file to load at startup")
	ginMode := flag.String("gin-mode", getEnv("GIN_MODE", gin.ReleaseMode), "gin engine mode")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	gin.SetMode(*ginMode)

	envPath := filepath.Join(*configDir, ".env")
	cfg, err := config.Load(envPath)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		return 1
	}

	ctx := context.Background()
	bundle, err := wiring.Build(ctx, cfg, log)
	if err != nil {
		log.Error("failed to build admin server dependencies", "error", err)
		return 1
	}
	defer bundle.Close()

	if *seedFile != "" {
		if err := seedSources(ctx, bundle, *seedFile, log); err != nil {
			log.Error("failed to load seed file", "seed_file", *seedFile, "error", err)
			return 1
		}
	}

	srv := httpapi.New(bundle.Store, bundle.Coordinator, bundle.Flags, log)

	log.Info("admin server listening", "version", version.Full(), "addr", cfg.HTTPAddr)
	if err := srv.Router().Run(cfg.HTTPAddr); err != nil {
		log.Error("admin server stopped", "error", err)
		return 1
	}
	return 0
}

func seedSources(ctx context.Context, bundle *wiring.Bundle, path string, log *slog.Logger) error {
	seeds, err := config.LoadSourceSeeds(path)
	if err != nil {
		return err
	}
	for _, src := range seeds {
		if err := bundle.Store.CreateSource(ctx, src); err != nil {
			return err
		}
		log.Info("seeded source", "source_id", src.ID, "name", src.Name)
	}
	return nil
}
