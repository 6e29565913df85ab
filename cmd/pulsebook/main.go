// Pulsebook records clinical visits on the local device and syncs them with a
// shared PostgreSQL database whenever it is reachable.
//
// Usage:
//
//	pulsebook serve [--config <path>]         # HTTP API + periodic sync
//	pulsebook sync [--up | --down]            # single sync pass then exit
//	pulsebook status                          # local backlog and remote state
//	pulsebook migrate                         # apply remote schema migrations
//	pulsebook import --user <id> <file.json>  # bulk-load records
//	pulsebook user add --username <name>      # create a local account
//	pulsebook practitioner add --name <name>  # create a doctor or teacher
//	pulsebook version                         # print version
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsebook/pulsebook/internal/access"
	"github.com/pulsebook/pulsebook/internal/api"
	"github.com/pulsebook/pulsebook/internal/model"
	"github.com/pulsebook/pulsebook/internal/pulse"
	"github.com/pulsebook/pulsebook/internal/records"
	syncp "github.com/pulsebook/pulsebook/internal/sync"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var flags globalFlags
	root := &cobra.Command{
		Use:           "pulsebook",
		Short:         "Offline-first clinical records with remote sync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config.yaml (default ~/.config/pulsebook/config.yaml)")
	root.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "enable debug logging")

	root.AddCommand(
		serveCmd(&flags),
		syncCmd(&flags),
		statusCmd(&flags),
		migrateCmd(&flags),
		importCmd(&flags),
		userCmd(&flags),
		practitionerCmd(&flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "pulsebook", version)
			},
		},
	)
	return root
}

// --- Subcommands -------------------------------------------------------------

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the periodic sync loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			a, err := openApp(ctx, flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.serve(ctx)
		},
	}
}

func syncCmd(flags *globalFlags) *cobra.Command {
	var up, down bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a single sync pass then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if up && down {
				return fmt.Errorf("--up and --down are mutually exclusive")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			a, err := openApp(ctx, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			run := a.engine.SyncAll
			switch {
			case up:
				run = a.engine.SyncUp
			case down:
				run = a.engine.SyncDown
			}
			res, err := run(ctx)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			return res.Err
		},
	}
	cmd.Flags().BoolVar(&up, "up", false, "push local changes only")
	cmd.Flags().BoolVar(&down, "down", false, "pull remote changes only")
	return cmd
}

func statusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local backlog and remote reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.printStatus(ctx, cmd)
		},
	}
}

func migrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending remote schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.remote == nil {
				return fmt.Errorf("no remote database configured")
			}
			n, err := a.remote.Migrate(ctx)
			if err != nil {
				return fmt.Errorf("migrating remote database: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return nil
		},
	}
}

func importCmd(flags *globalFlags) *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Bulk-load records from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %q: %w", args[0], err)
			}
			var rows []records.SaveInput
			if err := json.Unmarshal(raw, &rows); err != nil {
				return fmt.Errorf("parsing %q: %w", args[0], err)
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.records.Import(ctx, userID, rows)
			if err != nil {
				return err
			}
			return printJSON(cmd, rep)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "id of the local user the records are attributed to")
	return cmd
}

func userCmd(flags *globalFlags) *cobra.Command {
	var in records.UserInput
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a local account; it is pushed by the next sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.records.CreateUser(ctx, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %q (id %d, role %s)\n", u.Username, u.ID, u.Role)
			return nil
		},
	}
	add.Flags().StringVar(&in.Username, "username", "", "login name (required)")
	add.Flags().StringVar(&in.Password, "password", "", "login password")
	add.Flags().StringVar(&in.Role, "role", model.RolePractitioner, "admin or practitioner")
	add.Flags().StringVar(&in.AccountType, "account-type", model.AccountPractitioner, "practitioner or personal")
	add.Flags().StringVar(&in.RealName, "real-name", "", "display name")
	_ = add.MarkFlagRequired("username")

	cmd := &cobra.Command{Use: "user", Short: "Manage local accounts"}
	cmd.AddCommand(add)
	return cmd
}

func practitionerCmd(flags *globalFlags) *cobra.Command {
	var in records.PractitionerInput
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a doctor or teacher; it is pushed by the next sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.records.CreatePractitioner(ctx, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %q (id %d)\n", p.Role, p.Name, p.ID)
			return nil
		},
	}
	add.Flags().StringVar(&in.Name, "name", "", "unique name (required)")
	add.Flags().StringVar(&in.Role, "role", model.PractitionerTeacher, "doctor or teacher")
	_ = add.MarkFlagRequired("name")

	cmd := &cobra.Command{Use: "practitioner", Short: "Manage doctors and teachers"}
	cmd.AddCommand(add)
	return cmd
}

// --- Commands ----------------------------------------------------------------

func (a *app) serve(ctx context.Context) error {
	var fallback *access.Principal
	if id := a.cfg.HTTP.DefaultUserID; id != 0 {
		fallback = &access.Principal{
			UserID:      id,
			Role:        model.RolePractitioner,
			AccountType: model.AccountPractitioner,
		}
	}

	deps := api.Deps{
		Engine:           a.engine,
		Records:          a.records,
		Search:           a.searcher,
		Local:            a.local,
		DefaultPrincipal: fallback,
	}
	if a.remote != nil {
		deps.Remote = a.remote
	}
	srv := api.New(deps, a.log)

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Start(a.cfg.HTTP.Addr) }()
	go func() {
		if err := a.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("sync engine: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("http server shutdown", "error", err)
	}
	a.log.Info("shutdown complete")
	return runErr
}

func (a *app) printStatus(ctx context.Context, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Pulsebook Status")
	fmt.Fprintln(out, "────────────────")

	fmt.Fprintf(out, "  Config:    %s\n", a.cfgSource)
	if info, err := os.Stat(a.dbPath); err == nil {
		fmt.Fprintf(out, "  Local DB:  %s (%s)\n", a.dbPath, humanSize(info.Size()))
	} else {
		fmt.Fprintf(out, "  Local DB:  %s\n", a.dbPath)
	}

	switch {
	case a.remote == nil:
		fmt.Fprintln(out, "  Remote:    not configured (local-only)")
	default:
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.remote.Ping(pingCtx)
		cancel()
		if err != nil {
			fmt.Fprintf(out, "  Remote:    unreachable (%v)\n", err)
		} else {
			fmt.Fprintln(out, "  Remote:    reachable")
		}
	}

	counts, err := a.local.StatusCounts(ctx)
	if err != nil {
		return fmt.Errorf("reading sync status: %w", err)
	}
	fmt.Fprintln(out, "")
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  KIND\tPENDING\tSYNCED\tFAILED")
	for _, k := range model.SyncOrder {
		c := counts[k]
		fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\n", k, c[model.StatusPending], c[model.StatusSynced], c[model.StatusFailed])
	}
	return tw.Flush()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

var (
	_ api.Syncer   = (*syncp.Engine)(nil)
	_ api.Searcher = (*pulse.Searcher)(nil)
)
