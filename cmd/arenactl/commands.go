package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"arena-registration/internal/app"
	"arena-registration/internal/utils"

	"github.com/spf13/cobra"
)

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.DB.RunMigrations(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All migrations completed successfully!")
				return nil
			})
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				status, err := a.DB.GetMigrationStatus(ctx)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tSTATE")
				for _, s := range status {
					state := "pending"
					if s.Applied {
						state = "applied"
					}
					fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, s.Name, state)
				}
				return w.Flush()
			})
		},
	}
}

func (c *cli) forcePayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force-pay [user-id]",
		Short: "Record a free ticket for a user, as if they had paid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				cart, err := a.Ledger.ForcePay(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cart)
			})
		},
	}
}

func (c *cli) lockTeamCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock-team [team-id]",
		Short: "Give a complete, paid team a slot regardless of the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				view, err := a.Gate.LockTeam(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}
}

func (c *cli) unlockTeamCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock-team [team-id]",
		Short: "Release the slot of a team and promote the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				view, err := a.Gate.UnlockTeam(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}
}

func (c *cli) deleteTeamCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-team [team-id]",
		Short: "Delete a team, detaching its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				promoted, err := a.Gate.DeleteTeam(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "team %s deleted, %d team(s) promoted %v\n", args[0], len(promoted), promoted)
				return nil
			})
		},
	}
}

func (c *cli) replaceMemberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replace-member [team-id] [old-user-id] [new-user-id]",
		Short: "Swap a team member for a user outside any team",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				view, err := a.Roster.ReplaceMember(ctx, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}
}

func (c *cli) refundCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refund [cart-id]",
		Short: "Mark a paid cart refunded and release the teams it held",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				result, err := a.Ledger.Refund(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func (c *cli) expireCartsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire-carts",
		Short: "Expire processing carts the provider never settled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			if olderThan == 0 {
				olderThan = c.cfg.Carts.ProcessingTTL
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				expired, err := a.Ledger.ExpireStaleCarts(ctx, olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d cart(s) expired\n", expired)
				return nil
			})
		},
	}

	cmd.Flags().Duration("older-than", 0, "minimum cart age; defaults to CART_PROCESSING_TTL")
	return cmd
}

func (c *cli) showTournamentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show-tournament [tournament-id]",
		Short: "Show capacity, locked teams and the waiting queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				view, err := a.Gate.FetchTournament(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}
}

func (c *cli) showTeamCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show-team [team-id]",
		Short: "Show a team with its members and readiness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				view, err := a.Gate.FetchTeam(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}
}

func (c *cli) showCartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show-cart [cart-id]",
		Short: "Show a cart, by id or by provider transaction id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			byTransaction, _ := cmd.Flags().GetBool("transaction")
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				fetch := a.Ledger.FetchCart
				if byTransaction {
					fetch = a.Ledger.FetchCartFromTransactionID
				}
				cart, err := fetch(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cart)
			})
		},
	}

	cmd.Flags().Bool("transaction", false, "look the cart up by provider transaction id")
	return cmd
}

func genKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gen-key",
		Short: "Generate an ETUPAY_KEY, or an ADMIN_TOKEN with --admin-token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			adminToken, _ := cmd.Flags().GetBool("admin-token")

			var key string
			var err error
			if adminToken {
				key, err = utils.GenerateSecureToken(32)
			} else {
				key, err = utils.GenerateKey()
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}

	cmd.Flags().Bool("admin-token", false, "generate a random admin bearer token instead")
	return cmd
}
