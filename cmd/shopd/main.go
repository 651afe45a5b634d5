package main

import (
	"flag"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"shopchain/config"
	"shopchain/core"
	"shopchain/native/token"
	"shopchain/observability/logging"
	"shopchain/rpc"
	"shopchain/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SHOP_ENV"))
	logger := logging.Setup("shopd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	feeTreasury, err := config.ParseAddress(cfg.FeeTreasury)
	if err != nil {
		logger.Error("invalid fee treasury address", slog.Any("error", err))
		os.Exit(1)
	}

	node, err := core.NewNode(db, feeTreasury, logger)
	if err != nil {
		logger.Error("failed to create node", slog.Any("error", err))
		os.Exit(1)
	}

	if err := seedGenesis(node, cfg, logger); err != nil {
		logger.Error("failed to seed genesis state", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("node ready",
		slog.String("network", cfg.NetworkName),
		slog.String("rpc", cfg.RPCAddress),
	)
	server := rpc.NewServer(node, logger)
	if err := server.Start(cfg.RPCAddress, cfg.MetricsPath); err != nil {
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// seedGenesis registers configured mints and funds genesis accounts. Funding
// only applies to accounts that are still empty, so restarting the node does
// not double-credit anyone.
func seedGenesis(node *core.Node, cfg *config.Config, logger *slog.Logger) error {
	for _, mintCfg := range cfg.Mints {
		id, err := config.ParseMintID(mintCfg.ID)
		if err != nil {
			return err
		}
		standard, err := token.ParseStandard(mintCfg.Standard)
		if err != nil {
			return err
		}
		if err := node.RegisterMint(&token.Mint{ID: id, Decimals: mintCfg.Decimals, Standard: standard}); err != nil {
			return err
		}
		logger.Info("registered mint", slog.String("id", mintCfg.ID), slog.String("standard", standard.String()))
	}
	for _, accountCfg := range cfg.Accounts {
		addr, err := config.ParseAddress(accountCfg.Address)
		if err != nil {
			return err
		}
		balance, err := node.LamportBalance(addr)
		if err != nil {
			return err
		}
		if balance.Sign() != 0 {
			continue
		}
		if accountCfg.BalanceLamports > 0 {
			if err := node.FundAccount(addr, new(big.Int).SetUint64(accountCfg.BalanceLamports)); err != nil {
				return err
			}
		}
		for mintID, amount := range accountCfg.TokenBalances {
			id, err := config.ParseMintID(mintID)
			if err != nil {
				return err
			}
			if err := node.MintTo(id, addr, amount); err != nil {
				return err
			}
		}
	}
	return nil
}
