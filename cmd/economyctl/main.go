package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"game-economy/config"
	"game-economy/models"
	"game-economy/services"
	"game-economy/utils"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var cmd = &cobra.Command{
	Use:          "economyctl",
	Short:        "Operator tool for the game economy",
	SilenceUsage: true,
}

var flag = struct {
	Currency    string
	Source      string
	Description string
	Limit       int
	Depth       int
	Rule        string
	TableBps    []int64
	Referrer    string
	File        string
}{}

// env is built lazily so --help works without a database.
type env struct {
	accounts    *services.AccountDirectory
	ledger      *services.LedgerService
	referrals   *services.ReferralService
	tournaments *services.TournamentService
}

func connect() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := utils.InitLogger(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	accounts := services.NewAccountDirectory(db)
	ledger := services.NewLedgerService(db, accounts, nil)
	referrals := services.NewReferralService(db, accounts, nil)
	referrals.MaxDepth = cfg.ReferralMaxDepth
	referrals.MaxVisitedNodes = cfg.ReferralMaxNodes

	var archive services.ReceiptArchive
	if cfg.R2Enabled() {
		r2, err := utils.NewR2Archive(context.Background(), utils.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			Bucket:          cfg.R2Bucket,
			CDNBaseURL:      cfg.CDNBaseURL,
		})
		if err != nil {
			return nil, err
		}
		archive = r2
	}
	return &env{
		accounts:    accounts,
		ledger:      ledger,
		referrals:   referrals,
		tournaments: services.NewTournamentService(db, ledger, referrals, archive, nil),
	}, nil
}

// withEnv adapts a command body that needs services into a cobra RunE.
func withEnv(fn func(ctx context.Context, e *env, args []string) (interface{}, error)) func(*cobra.Command, []string) error {
	return func(c *cobra.Command, args []string) error {
		e, err := connect()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Minute)
		defer cancel()
		v, err := fn(ctx, e, args)
		if err != nil {
			return err
		}
		return printJSON(c, v)
	}
}

func printJSON(c *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(c.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseAmount(s string) (int64, error) {
	var n int64
	if _, err := fmt.Sscan(s, &n); err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}

var cmdMigrate = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the economy tables",
	Args:  cobra.NoArgs,
	RunE: withEnv(func(ctx context.Context, e *env, _ []string) (interface{}, error) {
		if err := models.AutoMigrate(e.ledger.DB.WithContext(ctx)); err != nil {
			return nil, err
		}
		return map[string]string{"status": "migrated"}, nil
	}),
}

var cmdBalance = &cobra.Command{
	Use:   "balance <address>",
	Short: "Show an account's balances",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(ctx context.Context, e *env, args []string) (interface{}, error) {
		return e.ledger.Balance(ctx, args[0])
	}),
}

var cmdHistory = &cobra.Command{
	Use:   "history <address>",
	Short: "Show an account's newest ledger entries",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(ctx context.Context, e *env, args []string) (interface{}, error) {
		return e.ledger.History(ctx, args[0], models.Currency(flag.Currency), flag.Limit)
	}),
}

var cmdCredit = &cobra.Command{
	Use:   "credit <address> <amount>",
	Short: "Credit coins to an account",
	Args:  cobra.ExactArgs(2),
	RunE: withEnv(func(ctx context.Context, e *env, args []string) (interface{}, error) {
		amount, err := parseAmount(args[1])
		if err != nil {
			return nil, err
		}
		return e.ledger.Credit(ctx, args[0], models.Currency(flag.Currency), amount, models.TransactionSource(flag.Source), flag.Description)
	}),
}

var cmdDebit = &cobra.Command{
	Use:   "debit <address> <amount>",
	Short: "Debit coins from an account",
	Args:  cobra.ExactArgs(2),
	RunE: withEnv(func(ctx context.Context, e *env, args []string) (interface{}, error) {
		amount, err := parseAmount(args[1])
		if err != nil {
			return nil, err
		}
		return e.ledger.Debit(ctx, args[0], models.Currency(flag.Currency), amount, models.TransactionSource(flag.Source), flag.Description)
	}),
}

var cmdTransfer = &cobra.Command{
	Use:   "transfer <from> <to> <amount>",
	Short: "Move coins between two accounts",
	Args:  cobra.ExactArgs(3),
	RunE: withEnv(func(ctx context.Context, e *env, args []string) (interface{}, error) {
		amount, err := parseAmount(args[2])
		if err != nil {
			return nil, err
		}
		debit, credit, err := e.ledger.Transfer(ctx, args[0], args[1], models.Currency(flag.Currency), amount)
		if err != nil {
			return nil, err
		}
		return map[string]*models.CoinTransaction{"debit": debit, "credit": credit}, nil
	}),
}

var cmdAccount = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts",
}

var cmdAccountCreate = &cobra.Command{
	Use:   "create <address>",
	Short: "Create an account, optionally with a referrer",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(ctx context.Context, e *env, args []string) (interface{}, error) {
		return e.accounts.Create(ctx, args[0], flag.Referrer)
	}),
}

var cmdAccountStatus = &cobra.Command{
	Use:   "status <address> <standard|premium|banned>",
	Short: "Change an account's status",
	Args:  cobra.ExactArgs(2),
	RunE: withEnv(func(ctx context.Context, e *env, args []string) (interface{}, error) {
		if err := e.accounts.SetStatus(ctx, args[0], models.AccountStatus(args[1])); err != nil {
			return nil, err
		}
		return e.accounts.Get(ctx, args[0])
	}),
}

var cmdTournament = &cobra.Command{
	Use:   "tournament",
	Short: "Manage tournaments",
}

var cmdTournamentCreate = &cobra.Command{
	Use:   "create",
	Short: "Create a tournament from a JSON file (--file, - for stdin)",
	Args:  cobra.NoArgs,
	RunE: withEnv(func(ctx context.Context, e *env, _ []string) (interface{}, error) {
		in := os.Stdin
		if flag.File != "" && flag.File != "-" {
			f, err := os.Open(flag.File)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			in = f
		}
		var input services.CreateTournamentInput
		if err := json.NewDecoder(in).Decode(&input); err != nil {
			return nil, fmt.Errorf("decode tournament: %w", err)
		}
		return e.tournaments.Create(ctx, input)
	}),
}

var cmdTournamentShow = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a tournament and its participants",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(ctx context.Context, e *env, args []string) (interface{}, error) {
		t, err := e.tournaments.Get(ctx, args[0])
		if err != nil {
			return nil, err
		}
		ps, err := e.tournaments.Participants(ctx, args[0])
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"tournament": t, "participants": ps}, nil
	}),
}

func tournamentTransition(use, short string, fn func(*services.TournamentService, context.Context, string) (*models.Tournament, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, args []string) (interface{}, error) {
			return fn(e.tournaments, ctx, args[0])
		}),
	}
}

var cmdTournamentSettle = &cobra.Command{
	Use:   "settle <id>",
	Short: "Rank an ended tournament and pay the prizes (resumes an interrupted settlement)",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(ctx context.Context, e *env, args []string) (interface{}, error) {
		var rule *services.PrizeRule
		if flag.Rule != "" {
			rule = &services.PrizeRule{Kind: models.PrizeRuleKind(flag.Rule), TableBps: flag.TableBps}
		}
		return e.tournaments.Settle(ctx, args[0], rule)
	}),
}

var cmdReferral = &cobra.Command{
	Use:   "referral",
	Short: "Inspect the referral tree",
}

var cmdReferralSummary = &cobra.Command{
	Use:   "summary <address>",
	Short: "Show the stored referral summary, computing it if missing",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(ctx context.Context, e *env, args []string) (interface{}, error) {
		return e.referrals.Summary(ctx, args[0])
	}),
}

var cmdReferralRefresh = &cobra.Command{
	Use:   "refresh <address>",
	Short: "Recompute an account's referral summary",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(ctx context.Context, e *env, args []string) (interface{}, error) {
		return e.referrals.Refresh(ctx, args[0])
	}),
}

var cmdReferralTree = &cobra.Command{
	Use:   "tree <address>",
	Short: "Print the referral subtree of an account",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(ctx context.Context, e *env, args []string) (interface{}, error) {
		return e.referrals.BuildSubtree(ctx, args[0], flag.Depth)
	}),
}

var cmdReferralCapacity = &cobra.Command{
	Use:   "capacity <address>",
	Short: "Show an account's reward capacity (stamina)",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(ctx context.Context, e *env, args []string) (interface{}, error) {
		n, err := e.referrals.RewardCapacity(ctx, args[0], time.Now())
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"wallet_address": args[0], "stamina": n}, nil
	}),
}

func init() {
	for _, c := range []*cobra.Command{cmdHistory, cmdCredit, cmdDebit, cmdTransfer} {
		c.Flags().StringVarP(&flag.Currency, "currency", "c", string(models.CurrencyExperience), "Currency (experience, achievement, social, premium)")
	}
	cmdHistory.Flags().IntVar(&flag.Limit, "limit", 50, "Maximum number of entries")
	for _, c := range []*cobra.Command{cmdCredit, cmdDebit} {
		c.Flags().StringVar(&flag.Source, "source", string(models.SourceAdmin), "Transaction source")
		c.Flags().StringVarP(&flag.Description, "description", "d", "", "Description stored on the ledger entry")
	}
	cmdAccountCreate.Flags().StringVar(&flag.Referrer, "referrer", "", "Referrer wallet address")
	cmdTournamentCreate.Flags().StringVarP(&flag.File, "file", "f", "-", "JSON file with the tournament definition")
	cmdTournamentSettle.Flags().StringVar(&flag.Rule, "rule", "", "Override the prize rule (winner_take_all, proportional, fixed)")
	cmdTournamentSettle.Flags().Int64SliceVar(&flag.TableBps, "table-bps", nil, "Basis points per rank for the fixed rule")
	cmdReferralTree.Flags().IntVar(&flag.Depth, "depth", 0, "Maximum depth (0 uses the configured default)")

	cmdAccount.AddCommand(cmdAccountCreate, cmdAccountStatus)
	cmdTournament.AddCommand(
		cmdTournamentCreate,
		cmdTournamentShow,
		tournamentTransition("start", "Move an upcoming tournament to active", (*services.TournamentService).Start),
		tournamentTransition("end", "Move an active tournament to ended", (*services.TournamentService).End),
		tournamentTransition("cancel", "Cancel an upcoming tournament and refund entries", (*services.TournamentService).Cancel),
		cmdTournamentSettle,
	)
	cmdReferral.AddCommand(cmdReferralSummary, cmdReferralRefresh, cmdReferralTree, cmdReferralCapacity)
	cmd.AddCommand(cmdMigrate, cmdBalance, cmdHistory, cmdCredit, cmdDebit, cmdTransfer, cmdAccount, cmdTournament, cmdReferral)
}
