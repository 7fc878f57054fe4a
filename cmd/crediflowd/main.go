package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"crediflow/config"
	"crediflow/core/events"
	"crediflow/core/state"
	"crediflow/native/agreements"
	"crediflow/native/common"
	"crediflow/native/credit"
	"crediflow/native/pool"
	"crediflow/native/score"
	"crediflow/rpc"
	"crediflow/storage"
)

// moduleAddress derives a deterministic address for an internal module so
// that pool liquidity and bootstrap governance live at well-known accounts.
func moduleAddress(name string) [20]byte {
	digest := ethcrypto.Keccak256([]byte(name))
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

var (
	poolModuleAddr = moduleAddress("crediflow/module/pool")
	bootstrapAdmin = moduleAddress("crediflow/module/governance")
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the configuration file")
	flag.Parse()

	logger := log.New(os.Stdout, "crediflowd ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Fatalf("open state database: %v", err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	if err := seedRoles(manager, cfg); err != nil {
		logger.Fatalf("seed roles: %v", err)
	}
	emitter := events.NewLogEmitter(logger)

	verifier := score.NewVerifier(manager)
	verifier.SetRoles(manager)
	if cfg.Score.TrustedSigner != "" {
		signer, err := cfg.TrustedSignerAddress()
		if err != nil {
			logger.Fatalf("trusted signer: %v", err)
		}
		if err := verifier.SetTrustedSigner(bootstrapAdmin, signer); err != nil {
			logger.Fatalf("set trusted signer: %v", err)
		}
	}

	registry := credit.NewEngine(credit.RiskParams{
		RiskFactorBps:        cfg.Registry.RiskFactorBps,
		PDWeightBps:          cfg.Registry.PDWeightBps,
		UtilizationWeightBps: cfg.Registry.UtilizationWeightBps,
		MinAPRBps:            cfg.Registry.MinAPRBps,
		MaxAPRBps:            cfg.Registry.MaxAPRBps,
	})
	registry.SetState(credit.NewStore(manager))
	registry.SetVerifier(verifier)
	registry.SetRoles(manager)
	registry.SetPauses(manager)
	registry.SetEmitter(emitter)

	tiers, err := tierSchedule(cfg)
	if err != nil {
		logger.Fatalf("tier schedule: %v", err)
	}
	if err := registry.SetTierSchedule(bootstrapAdmin, tiers); err != nil {
		logger.Fatalf("set tier schedule: %v", err)
	}

	poolEngine := pool.NewEngine(poolModuleAddr)
	poolEngine.SetState(pool.NewStore(manager))
	poolEngine.SetRegistry(registry)
	poolEngine.SetRoles(manager)
	poolEngine.SetPauses(manager)
	poolEngine.SetEmitter(emitter)
	poolEngine.SetSeniorFloor(cfg.Pool.SeniorFloorBps)
	if err := poolEngine.SetConfig(bootstrapAdmin, cfg.Pool.SeniorRatioBps, cfg.Pool.ReserveRatioBps, cfg.Pool.MaxUtilizationBps); err != nil {
		logger.Fatalf("set pool config: %v", err)
	}
	if err := registry.SetLendingPool(bootstrapAdmin, poolModuleAddr, poolEngine); err != nil {
		logger.Fatalf("bind lending pool: %v", err)
	}

	agreementEngine := agreements.NewEngine(agreements.Limits{
		MaxInstallments:     cfg.Agreements.MaxInstallments,
		MaxAPRBps:           cfg.Agreements.MaxAPRBps,
		InstallmentInterval: cfg.Agreements.InstallmentIntervalSec,
		GracePeriod:         cfg.Agreements.GracePeriodSec,
		WriteOffPeriod:      cfg.Agreements.WriteOffPeriodSec,
		PenaltyRateBps:      cfg.Agreements.PenaltyRateBps,
		PenaltyCapBps:       cfg.Agreements.PenaltyCapBps,
	})
	agreementEngine.SetState(agreements.NewStore(manager))
	agreementEngine.SetPool(poolEngine)
	agreementEngine.SetRoles(manager)
	agreementEngine.SetPauses(manager)
	agreementEngine.SetEmitter(emitter)

	server := rpc.NewServer(poolEngine, registry, agreementEngine, verifier, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", cfg.ListenAddress)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Printf("shutdown: %v", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("serve: %v", err)
		}
	}
}

func seedRoles(manager *state.Manager, cfg *config.Config) error {
	if err := manager.SetRole(common.RoleAdmin, bootstrapAdmin[:]); err != nil {
		return err
	}
	if err := manager.SetRole(common.RoleRegistryUpdater, poolModuleAddr[:]); err != nil {
		return err
	}
	grants := []struct {
		role string
		list []string
	}{
		{common.RoleAdmin, cfg.Roles.Admins},
		{common.RoleRegistryUpdater, cfg.Roles.RegistryUpdaters},
		{common.RoleFactoryCreator, cfg.Roles.FactoryCreators},
	}
	for _, grant := range grants {
		members, err := config.RoleMembers(grant.list)
		if err != nil {
			return err
		}
		for _, addr := range members {
			if err := manager.SetRole(grant.role, addr[:]); err != nil {
				return err
			}
		}
	}
	return nil
}

func tierSchedule(cfg *config.Config) ([]credit.Tier, error) {
	tiers := make([]credit.Tier, 0, len(cfg.Registry.Tiers))
	for _, tier := range cfg.Registry.Tiers {
		limit, err := tier.TierLimit()
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, credit.Tier{
			MinScore:          tier.MinScore,
			BaseLimit:         new(big.Int).Set(limit),
			BaseAPRBps:        tier.BaseAPRBps,
			MaxUtilizationBps: tier.MaxUtilizationBps,
		})
	}
	return tiers, nil
}
