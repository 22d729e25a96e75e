package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"arena-registration/internal/app"
	"arena-registration/internal/config"
	"arena-registration/internal/logger"

	"github.com/spf13/cobra"
)

var Version = "dev"

// cli carries what every subcommand needs
type cli struct {
	cfg    *config.Config
	logger *slog.Logger
	// open connects to the database and wires the services
	open func(ctx context.Context) (*app.App, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "arenactl",
		Short:         "arenactl - operator tool for tournament registration",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			level, _ := cmd.Flags().GetString("log-level")
			if level == "" {
				level = cfg.Log.Level
			}

			c.cfg = cfg
			c.logger = logger.New(logger.Options{
				Service: "arenactl",
				Env:     cfg.Server.Env,
				Level:   level,
				Output:  cmd.ErrOrStderr(),
			})
			c.open = func(ctx context.Context) (*app.App, error) {
				return app.New(ctx, c.cfg, c.logger)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); defaults to LOG_LEVEL")

	// Add subcommands
	rootCmd.AddCommand(c.migrateCmd())
	rootCmd.AddCommand(c.statusCmd())
	rootCmd.AddCommand(c.forcePayCmd())
	rootCmd.AddCommand(c.lockTeamCmd())
	rootCmd.AddCommand(c.unlockTeamCmd())
	rootCmd.AddCommand(c.deleteTeamCmd())
	rootCmd.AddCommand(c.replaceMemberCmd())
	rootCmd.AddCommand(c.refundCmd())
	rootCmd.AddCommand(c.expireCartsCmd())
	rootCmd.AddCommand(c.showTournamentCmd())
	rootCmd.AddCommand(c.showTeamCmd())
	rootCmd.AddCommand(c.showCartCmd())
	rootCmd.AddCommand(genKeyCmd())

	return rootCmd
}

// withApp runs fn with a connected app and closes it afterwards
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
