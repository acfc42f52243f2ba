// Package main is the operator CLI for the credits ledger and safety checks.
//
// Usage:
//
//	sweepctl [-config file] <command> [flags] [args]
//
// Commands:
//
//	balance <wallet>                      show balance and expiry
//	history [-limit N] [-offset N] <wallet>
//	stats <wallet>
//	add [-tx hash] [-desc text] <wallet> <cents>
//	refund [-reason text] <wallet> <cents>
//	expire                                expire lapsed balances now
//	cleanup                               remove quotes past retention
//	check [-chain base] [-wallet addr] [-amount raw] <token>...
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"dust-sweeper/internal/app"
	"dust-sweeper/internal/config"
	"dust-sweeper/internal/credits"
	"dust-sweeper/internal/decision"
	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/logger"
	"dust-sweeper/internal/quotestore"
)

type components struct {
	ledger *credits.Ledger
	gate   *decision.Gate
	quotes *quotestore.Store
}

func main() {
	configFile := flag.String("config", "", "Path to config file")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: sweepctl [-config file] <balance|history|stats|add|refund|expire|cleanup|check> [args]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.NewLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	var c components
	application := fx.New(
		fx.Supply(cfg),
		fx.Supply(log),
		app.Providers,
		fx.Populate(&c.ledger, &c.gate, &c.quotes),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := application.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting: %v\n", err)
		os.Exit(1)
	}

	runErr := run(ctx, c, flag.Arg(0), flag.Args()[1:])

	if err := application.Stop(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping: %v\n", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
}

func run(ctx context.Context, c components, cmd string, args []string) error {
	switch cmd {
	case "balance":
		return cmdBalance(ctx, c.ledger, args)
	case "history":
		return cmdHistory(ctx, c.ledger, args)
	case "stats":
		return cmdStats(ctx, c.ledger, args)
	case "add":
		return cmdAdd(ctx, c.ledger, args)
	case "refund":
		return cmdRefund(ctx, c.ledger, args)
	case "expire":
		n, err := c.ledger.ExpireOldCredits(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("expired %d account(s)\n", n)
		return nil
	case "cleanup":
		n, err := c.quotes.Cleanup(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d quote(s)\n", n)
		return nil
	case "check":
		return cmdCheck(ctx, c.gate, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdBalance(ctx context.Context, l *credits.Ledger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: balance <wallet>")
	}
	bal, err := l.GetBalance(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(bal)
}

func cmdHistory(ctx context.Context, l *credits.Ledger, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", credits.DefaultHistoryLimit, "Entries per page")
	offset := fs.Int("offset", 0, "Entries to skip")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: history [-limit N] [-offset N] <wallet>")
	}

	txs, err := l.History(ctx, fs.Arg(0), *limit, *offset)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		fmt.Printf("%s  %-10s %+8d  balance=%-8d %s\n",
			time.UnixMilli(tx.CreatedAt).UTC().Format(time.RFC3339), tx.Type, tx.AmountCents, tx.BalanceAfter, deref(tx.Description))
	}
	return nil
}

func cmdStats(ctx context.Context, l *credits.Ledger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: stats <wallet>")
	}
	st, err := l.Stats(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(st)
}

func cmdAdd(ctx context.Context, l *credits.Ledger, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	txHash := fs.String("tx", "", "Deposit transaction hash (makes the credit idempotent)")
	desc := fs.String("desc", "manual adjustment", "Description")
	_ = fs.Parse(args)
	wallet, cents, err := walletAndCents(fs)
	if err != nil {
		return fmt.Errorf("usage: add [-tx hash] [-desc text] <wallet> <cents>: %w", err)
	}

	res, err := l.AddCredits(ctx, wallet, cents, credits.AddOptions{
		TxHash:      *txHash,
		Description: *desc,
		Origin:      credits.OriginManual,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func cmdRefund(ctx context.Context, l *credits.Ledger, args []string) error {
	fs := flag.NewFlagSet("refund", flag.ExitOnError)
	reason := fs.String("reason", "manual refund", "Refund reason")
	_ = fs.Parse(args)
	wallet, cents, err := walletAndCents(fs)
	if err != nil {
		return fmt.Errorf("usage: refund [-reason text] <wallet> <cents>: %w", err)
	}

	res, err := l.Refund(ctx, wallet, cents, *reason)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func cmdCheck(ctx context.Context, g *decision.Gate, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	chainName := fs.String("chain", "base", "Chain of the tokens")
	wallet := fs.String("wallet", "", "Holder wallet used as transfer sender")
	amount := fs.String("amount", "1000000000000000000", "Raw amount to simulate")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: check [-chain base] [-wallet addr] [-amount raw] <token>...")
	}

	chain, err := domain.ParseChain(*chainName)
	if err != nil {
		return err
	}
	raw, ok := new(big.Int).SetString(*amount, 10)
	if !ok || raw.Sign() <= 0 {
		return fmt.Errorf("invalid amount %q", *amount)
	}

	candidates := make([]decision.Candidate, 0, fs.NArg())
	for _, addr := range fs.Args() {
		candidates = append(candidates, decision.Candidate{
			Token:  domain.TokenRef{Chain: chain, Address: addr},
			Wallet: *wallet,
			Amount: raw,
		})
	}

	evals, err := g.EvaluateTokens(ctx, candidates)
	if err != nil {
		return err
	}
	fmt.Print(decision.RenderMarkdown(evals))
	return nil
}

func walletAndCents(fs *flag.FlagSet) (string, int64, error) {
	if fs.NArg() != 2 {
		return "", 0, fmt.Errorf("expected 2 arguments, got %d", fs.NArg())
	}
	cents, err := strconv.ParseInt(fs.Arg(1), 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid cents %q", fs.Arg(1))
	}
	return fs.Arg(0), cents, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
