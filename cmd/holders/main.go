// Package main dumps the ranked holders of a token straight from the chain,
// optionally checking them against the stored snapshot.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/holder-rounds/internal/adapter"
	"github.com/holder-rounds/internal/config"
	"github.com/holder-rounds/internal/models"
	"github.com/holder-rounds/internal/service"
	"github.com/holder-rounds/internal/storage"
	"github.com/holder-rounds/internal/types"
)

func main() {
	tokenFlag := flag.String("token", "", "Token contract address (defaults to TOKEN_CONTRACT_ADDRESS)")
	topFlag := flag.Int("top", 20, "Number of holders to print, 0 for all")
	jsonFlag := flag.Bool("json", false, "Print JSON instead of a table")
	compareFlag := flag.Bool("compare", false, "Compare against the holders stored in Postgres")
	timeoutFlag := flag.Duration("timeout", 5*time.Minute, "Overall timeout")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	token := strings.TrimSpace(*tokenFlag)
	if token == "" {
		token = cfg.Chain.TokenContractAddress
	}
	if !types.IsValidAddress(token) {
		fmt.Printf("Invalid or missing token address: %q\n", token)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	pool, err := adapter.NewRPCPool(ctx, &adapter.RPCPoolConfig{
		Endpoints:      cfg.Chain.RPCEndpoints,
		CooldownTime:   cfg.Chain.RPCCooldown,
		RequestTimeout: cfg.Chain.RPCTimeout,
	})
	if err != nil {
		fmt.Printf("Error connecting to RPC: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	chain, err := adapter.NewERC20Adapter(&adapter.ERC20AdapterConfig{
		ChainID:          cfg.Chain.ChainID,
		Client:           pool,
		ScanFromBlock:    cfg.Chain.ScanFromBlock,
		LogChunkSize:     cfg.Chain.LogChunkSize,
		FetchConcurrency: cfg.Chain.FetchConcurrency,
	})
	if err != nil {
		fmt.Printf("Error creating adapter: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Fetching holders of %s...\n", token)
	started := time.Now()
	balances, err := chain.FetchHolders(ctx, token)
	if err != nil {
		fmt.Printf("Error fetching holders: %v\n", err)
		os.Exit(1)
	}
	ranked := service.RankHolders(balances, time.Now().UTC())
	fmt.Fprintf(os.Stderr, "Found %d holders in %s\n", len(ranked), time.Since(started).Round(time.Millisecond))

	shown := ranked
	if *topFlag > 0 && len(shown) > *topFlag {
		shown = shown[:*topFlag]
	}

	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(shown); err != nil {
			fmt.Printf("Error encoding holders: %v\n", err)
			os.Exit(1)
		}
	} else {
		printTable(shown)
	}

	if *compareFlag {
		if err := compareWithStore(ctx, cfg, shown); err != nil {
			fmt.Printf("Error comparing with stored holders: %v\n", err)
			os.Exit(1)
		}
	}
}

func printTable(holders []models.HolderRecord) {
	fmt.Printf("%-5s %-42s %30s %9s\n", "RANK", "ADDRESS", "BALANCE", "SHARE")
	for _, h := range holders {
		fmt.Printf("%-5d %-42s %30s %8.4f%%\n", h.Rank, h.Address, h.Balance.String(), h.Percentage)
	}
}

func compareWithStore(ctx context.Context, cfg *config.Config, chainHolders []models.HolderRecord) error {
	db, err := storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	stored, err := storage.NewHolderRepository(db).GetTopN(ctx, len(chainHolders))
	if err != nil {
		return err
	}

	matched, mismatched := 0, 0
	var mismatches []string
	for i, h := range chainHolders {
		if i >= len(stored) {
			mismatches = append(mismatches, fmt.Sprintf("#%d %s missing from store", h.Rank, h.Address))
			mismatched++
			continue
		}
		s := stored[i]
		if s.Address == h.Address && s.Balance.Cmp(h.Balance) == 0 {
			matched++
			continue
		}
		mismatched++
		mismatches = append(mismatches, fmt.Sprintf("#%d chain %s (%s) vs store %s (%s)",
			h.Rank, h.Address, h.Balance, s.Address, s.Balance))
	}

	fmt.Printf("\n=== Summary ===\n")
	fmt.Printf("Total: %d, Matched: %d, Mismatched: %d\n", len(chainHolders), matched, mismatched)
	if len(mismatches) > 0 {
		fmt.Printf("\nMismatched:\n")
		for _, m := range mismatches {
			fmt.Printf("  %s\n", m)
		}
	}
	return nil
}
