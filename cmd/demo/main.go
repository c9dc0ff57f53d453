// Command demo runs the one-shot reentrancy demo on an in-memory chain and
// prints the balances at each stage.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/config"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/logging"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/scenario"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("demo failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ledgerOpts, err := cfg.Vault.LedgerOptions()
	if err != nil {
		return err
	}
	userFunds, userDeposit, attackerFunds, seed := cfg.Scenario.Amounts()

	world, err := scenario.NewWorld(ctx, scenario.Setup{
		UserFunds:     userFunds,
		UserDeposit:   userDeposit,
		AttackerFunds: attackerFunds,
	}, scenario.WithLogger(logger), scenario.WithLedgerOptions(ledgerOpts...))
	if err != nil {
		return err
	}

	fmt.Println("== Identities ==")
	fmt.Println("Deployer:", world.Deployer)
	fmt.Println("Attacker (owner):", world.Attacker)
	fmt.Println("User (funds vault):", world.User)
	fmt.Println("Vault:", world.Vault.Address(), "ordering:", world.Vault.Ordering())
	fmt.Println("Drainer:", world.Drainer.Address())
	fmt.Println()

	fmt.Printf("Running attack with recursion limit %d and seed %s...\n\n", cfg.Scenario.RecursionLimit, seed)
	result, err := world.RunOneShot(ctx, cfg.Scenario.RecursionLimit, seed)
	for _, s := range result.Stages {
		fmt.Printf("== %s ==\n", s.Stage)
		fmt.Println("Vault balance:", s.Vault)
		fmt.Println("Vault credited (sum of deposits):", s.VaultCredited)
		fmt.Println("Drainer balance:", s.Drainer)
		fmt.Println("Attacker owner balance:", s.Owner)
		fmt.Println()
	}
	if err != nil {
		return err
	}

	fmt.Printf("Withdrawals: %d, reentries: %d, extracted: %s (profit %s)\n",
		result.Report.Withdrawals, result.Report.Reentries, result.Report.Extracted, result.Report.Profit())
	if result.Report.RejectedReentry != nil {
		fmt.Println("Reentry rejected:", result.Report.RejectedReentry)
	}
	fmt.Println("Swept to owner:", result.Swept)
	return nil
}
