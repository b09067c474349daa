package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/Strob0t/LaneSync/internal/adapter/postgres"
	"github.com/Strob0t/LaneSync/internal/config"
	"github.com/Strob0t/LaneSync/internal/port/tracker"
	"github.com/Strob0t/LaneSync/internal/resilience"
	"github.com/Strob0t/LaneSync/internal/secrets"
	"github.com/Strob0t/LaneSync/internal/service"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "rotate-webhook":
		return runAdminRotateWebhook(args[1:])
	case "set-token":
		return runAdminSetToken(args[1:])
	case "list-runs":
		return runAdminListRuns(args[1:])
	case "abandon-stale":
		return runAdminAbandonStale(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: lanesync admin <command> [options]

Commands:
  rotate-webhook   Issue a new bearer token for a webhook source
  set-token        Re-save the API token of a tracker connection
  list-runs        List recent sync runs of a board
  abandon-stale    Close sync runs left running by a crashed process
  help             Show this help message

Examples:
  lanesync admin rotate-webhook --source shortcuts
  lanesync admin set-token --connection 4f1c...
  lanesync admin list-runs --board 9a2e... --limit 20
  lanesync admin abandon-stale
`)
}

type adminDeps struct {
	store    *postgres.Store
	conns    *service.ConnectionService
	sync     *service.SyncService
	webhooks *service.WebhookService
}

// loadAdminDeps wires the services against Postgres only. Admin commands
// publish no board events.
func loadAdminDeps() (*adminDeps, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	keyring, err := secrets.NewKeyring(keyLoader(cfg))
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("keyring: %w", err)
	}

	store := postgres.NewStore(pool)
	breakers := resilience.NewSet(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout, tracker.IsClientError)
	boards := service.NewBoardService(store, nil, nil, nil)
	conns := service.NewConnectionService(store, keyring, cfg.Sync, breakers)
	deps := &adminDeps{
		store:    store,
		conns:    conns,
		sync:     service.NewSyncService(store, store, conns, nil, nil, nil, cfg.Sync),
		webhooks: service.NewWebhookService(store, store, boards, nil, nil),
	}

	cleanup := func() {
		pool.Close()
	}
	return deps, cleanup, nil
}

func runAdminRotateWebhook(args []string) error {
	fs := flag.NewFlagSet("rotate-webhook", flag.ContinueOnError)
	source := fs.String("source", "", "webhook source name (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *source == "" {
		return fmt.Errorf("--source is required")
	}

	deps, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	rev, err := deps.webhooks.RotateSecret(context.Background(), *source)
	if err != nil {
		return fmt.Errorf("rotate webhook secret: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Token rotated for %s. The previous token no longer works.\n", *source)
	fmt.Println(rev.BearerToken)
	return nil
}

func runAdminSetToken(args []string) error {
	fs := flag.NewFlagSet("set-token", flag.ContinueOnError)
	connID := fs.String("connection", "", "connection id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *connID == "" {
		return fmt.Errorf("--connection is required")
	}

	token, err := promptSecret("API token: ")
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if token = strings.TrimSpace(token); token == "" {
		return fmt.Errorf("token must not be empty")
	}

	deps, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	conn, err := deps.store.GetConnection(ctx, *connID)
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	res, err := deps.conns.UpdateCredential(ctx, conn.Provider, conn.ID, token)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}

	if res.OK {
		fmt.Fprintf(os.Stderr, "Token saved for %s; connection test passed (%s)\n", conn.Name, res.Instance)
		return nil
	}
	fmt.Fprintf(os.Stderr, "Token saved for %s; connection test failed: %s\n", conn.Name, res.Message)
	if res.NeedsReconnect {
		return fmt.Errorf("connection %s still needs reconnect", conn.ID)
	}
	return nil
}

func runAdminListRuns(args []string) error {
	fs := flag.NewFlagSet("list-runs", flag.ContinueOnError)
	boardID := fs.String("board", "", "board id (required)")
	limit := fs.Int("limit", 20, "maximum runs to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *boardID == "" {
		return fmt.Errorf("--board is required")
	}

	deps, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := deps.sync.ListRuns(context.Background(), *boardID, *limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No sync runs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPROVIDER\tKIND\tSTATUS\tSTARTED\tCREATED\tUPDATED\tFAILED\tCONFLICTS")
	for i := range runs {
		r := &runs[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.ID, r.Provider, r.Kind, r.Status, r.StartedAt.Format(time.RFC3339),
			r.Counts.Created, r.Counts.Updated, r.Counts.Failed, r.Counts.Conflicts)
	}
	return w.Flush()
}

func runAdminAbandonStale(args []string) error {
	fs := flag.NewFlagSet("abandon-stale", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	deps, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := deps.sync.AbandonStale(context.Background())
	if err != nil {
		return fmt.Errorf("abandon stale runs: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Abandoned %d stale run(s)\n", n)
	return nil
}

// promptSecret reads a secret from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
