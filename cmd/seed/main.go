package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"premium-access/internal/config"
	"premium-access/internal/domain/model"
	pg "premium-access/internal/infra/db/postgres"
	"premium-access/internal/infra/logging"
	"premium-access/internal/usecase"
)

// seed issues premium codes and optionally loads an entitlement snapshot
// into the Postgres store.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	kind := flag.String("kind", string(model.KindInscription), "kind of code to issue")
	count := flag.Int("count", 1, "number of codes to issue")
	issuer := flag.String("issuer", "seed", "issuer recorded on the codes")
	customDays := flag.Int("custom-days", 0, "validity override for activation-relative kinds")
	snapshot := flag.String("snapshot", "", "JSON file of entitlement records to import")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := pg.RunMigrations(cfg.Database.URL); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	codes := pg.NewPremiumCodeRepo(pool)
	cache := pg.NewEntitlementRepo(pool)
	tm := pg.NewTxManager(pool)
	registry := usecase.NewCodeRegistryUseCase(codes, cache, tm, tm, logger)
	entitlements := usecase.NewEntitlementUseCase(codes, cache, pg.NewSnapshotRepo(pool), tm, tm, logger)

	var days *int
	if *customDays > 0 {
		days = customDays
	}
	now := time.Now()
	for i := 0; i < *count; i++ {
		c, err := registry.Generate(ctx, usecase.GenerateCodeRequest{
			Issuer:     *issuer,
			Kind:       model.CodeKind(*kind),
			CustomDays: days,
		}, now)
		if err != nil {
			logger.Fatal().Err(err).Msg("generate code")
		}
		fmt.Printf("%s\t%s\tvalid %s .. %s\n", c.Code, c.Kind, c.ValidFrom.Format(time.RFC3339), c.ValidUntil.Format(time.RFC3339))
	}

	if *snapshot != "" {
		b, err := os.ReadFile(*snapshot)
		if err != nil {
			logger.Fatal().Err(err).Msg("read snapshot")
		}
		var records []*model.UserEntitlementStatus
		if err := json.Unmarshal(b, &records); err != nil {
			logger.Fatal().Err(err).Msg("decode snapshot")
		}
		n, err := entitlements.ImportSnapshot(ctx, records)
		if err != nil {
			logger.Fatal().Err(err).Msg("import snapshot")
		}
		fmt.Printf("imported %d snapshot records\n", n)
	}
}
