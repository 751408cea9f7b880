package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/ElLibertador/remittance/config"
	"github.com/ElLibertador/remittance/core"
	"github.com/ElLibertador/remittance/crypto"
	"github.com/ElLibertador/remittance/observability/logging"
	"github.com/ElLibertador/remittance/rpc"
	"github.com/ElLibertador/remittance/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("REMESA_ENV"))
	logger := logging.Setup("remesad", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node := core.NewNode(db)

	if treasury := strings.TrimSpace(cfg.FeeTreasury); treasury != "" {
		addr, err := crypto.DecodeAddress(treasury)
		if err != nil {
			logger.Error("Invalid fee treasury address", slog.Any("error", err))
			os.Exit(1)
		}
		node.SetFeeTreasury(addr.Array())
	}

	if len(cfg.PausedModules) > 0 {
		pauses := core.PauseSet{}
		for _, module := range cfg.PausedModules {
			pauses[strings.TrimSpace(module)] = true
		}
		node.SetPauses(pauses)
		logger.Warn("Modules administratively paused", slog.Any("modules", cfg.PausedModules))
	}

	if err := applyGenesis(node, cfg.Genesis); err != nil {
		logger.Error("Failed to apply genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("Starting RPC server",
		slog.String("address", cfg.RPCAddress),
		slog.String("network", cfg.NetworkName),
	)
	server := rpc.NewServer(node)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// applyGenesis credits configured balances. Allocations run on every start;
// accounts already funded above the target are left alone so restarts do not
// double-credit.
func applyGenesis(node *core.Node, accounts []config.GenesisAccount) error {
	for _, account := range accounts {
		decoded, err := crypto.DecodeAddress(account.Address)
		if err != nil {
			return fmt.Errorf("genesis account %s: %w", account.Address, err)
		}
		target, ok := new(big.Int).SetString(strings.TrimSpace(account.Balance), 10)
		if !ok || target.Sign() < 0 {
			return fmt.Errorf("genesis account %s: invalid balance %q", account.Address, account.Balance)
		}
		addr := decoded.Array()
		current, err := node.Balance(addr)
		if err != nil {
			return fmt.Errorf("genesis account %s: %w", account.Address, err)
		}
		if current.Cmp(target) >= 0 {
			continue
		}
		topUp := new(big.Int).Sub(target, current)
		if err := node.FundAccount(addr, topUp); err != nil {
			return fmt.Errorf("genesis account %s: %w", account.Address, err)
		}
	}
	return nil
}
