package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"

	"payvault/config"
	"payvault/native/custody"
	"payvault/native/distribution"
	"payvault/native/payroll"
	"payvault/native/roles"
	"payvault/observability/logging"
	"payvault/rpc"
	"payvault/state"
	"payvault/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	var logger *slog.Logger
	if cfg.LogFile != "" {
		logger = logging.SetupWithRotation(cfg.ServiceName, cfg.Environment, cfg.LogFile, 100, 5)
	} else {
		logger = logging.Setup(cfg.ServiceName, cfg.Environment)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("daemon exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	manager, err := state.NewManager(db, cfg.Tokens)
	if err != nil {
		return err
	}
	registry := roles.NewRegistry(manager)

	custodyVault := state.ModuleAddress("custody/vault")
	payrollModule := state.ModuleAddress("payroll/module")
	payrollFloat := state.ModuleAddress("payroll/float")
	distributionVault := state.ModuleAddress("distribution/vault")
	venuePool := state.ModuleAddress("venue/pool")

	feeCollector := state.ModuleAddress("distribution/fees")
	if cfg.FeeCollector != "" {
		feeCollector, err = config.ParseAddress(cfg.FeeCollector)
		if err != nil {
			return err
		}
	}

	if cfg.RootAuthority != "" {
		root, err := config.ParseAddress(cfg.RootAuthority)
		if err != nil {
			return err
		}
		if err := registry.Bootstrap(root); err != nil && !errors.Is(err, roles.ErrBootstrapped) {
			return fmt.Errorf("bootstrap root authority: %w", err)
		}
		// The payroll engine drives custody locks through its module address.
		if err := registry.Grant(root, roles.RoleManager, payrollModule); err != nil {
			return fmt.Errorf("grant manager capability: %w", err)
		}
	} else {
		logger.Warn("no RootAuthority configured; capability grants must be seeded externally")
	}

	custodyEngine := custody.NewEngine(manager, manager, registry, custodyVault)
	custodyEngine.SetVenue(state.NewVenue(manager, custodyVault, venuePool))

	payrollEngine := payroll.NewEngine(manager, custodyEngine, manager, registry, payrollModule, payrollFloat)

	distributionEngine := distribution.NewEngine(manager, registry, cfg.LocalDomain, distributionVault, feeCollector, cfg.BaseFeeBps)
	loopback := distribution.NewLoopbackAdapter(manager, distributionVault)
	for _, domain := range cfg.Domains {
		distributionEngine.RegisterDomain(domain.ID, loopback, domain.FeeBps)
		logger.Info("registered destination domain", "domain", domain.ID, "name", domain.Name, "feeBps", domain.FeeBps)
	}

	for _, balance := range cfg.Balances {
		addr, err := config.ParseAddress(balance.Address)
		if err != nil {
			return err
		}
		amount, ok := new(big.Int).SetString(balance.Amount, 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("invalid seed balance %q for %s", balance.Amount, balance.Token)
		}
		existing, err := manager.BalanceOf(balance.Token, addr)
		if err != nil {
			return err
		}
		if existing.Sign() > 0 {
			// Already seeded on a previous start.
			continue
		}
		if err := manager.Credit(balance.Token, addr, amount); err != nil {
			return fmt.Errorf("seed balance: %w", err)
		}
	}

	server := rpc.NewServer(custodyEngine, payrollEngine, distributionEngine, registry, logger)
	logger.Info("payvault daemon ready", "rpc", cfg.RPCAddress, "tokens", cfg.Tokens, "localDomain", cfg.LocalDomain)
	return server.Start(cfg.RPCAddress)
}
