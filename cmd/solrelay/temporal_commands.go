package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/solrelay/service/temporal"
	"github.com/urfave/cli/v2"
)

func reconcileResultCommand() *cli.Command {
	return &cli.Command{
		Name:      "result",
		Usage:     "Wait for a transfer's reconciliation and print its outcome",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "How long to wait for the workflow to finish",
				Value:   5 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}
			format, err := formatFromContext(c)
			if err != nil {
				return err
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			result, err := tc.ReconcileResult(ctx, c.Args().First())
			if err != nil {
				return err
			}

			if format.structured() {
				return format.write(c.App.Writer, result)
			}
			fmt.Fprintf(c.App.Writer, "Signature: %s\n", result.Signature)
			fmt.Fprintf(c.App.Writer, "Status:    %s\n", result.Status)
			if result.Slot > 0 {
				fmt.Fprintf(c.App.Writer, "Slot:      %d\n", result.Slot)
			}
			if result.Error != "" {
				fmt.Fprintf(c.App.Writer, "Error:     %s\n", result.Error)
			}
			fmt.Fprintf(c.App.Writer, "Polls:     %d\n", result.Polls)
			return nil
		},
	}
}

func reconcilePendingCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile-pending",
		Usage: "Start reconciliation for every recorded transfer whose outcome is unknown",
		Description: `Find transfers still marked unknown in the history database and start a
reconciliation workflow for each. Workflows are keyed by signature, so transfers
already being reconciled are not started twice.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of transfers to reconcile",
				Value: 100,
			},
			&cli.DurationFlag{
				Name:  "window",
				Usage: "How long each workflow watches its signature",
				Value: 10 * time.Minute,
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Only list what would be started",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			transfers, err := store.ListTransfersByStatus(c.Context, "unknown", int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list transfers: %w", err)
			}
			if len(transfers) == 0 {
				fmt.Fprintln(c.App.Writer, "✓ No transfers with unknown outcome")
				return nil
			}

			if c.Bool("dry-run") {
				for _, t := range transfers {
					fmt.Fprintf(c.App.Writer, "would reconcile %s (created %s)\n", t.Signature, t.CreatedAt.Format(time.RFC3339))
				}
				return nil
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			deadline := time.Now().Add(c.Duration("window"))
			started := 0
			for _, t := range transfers {
				err := tc.StartReconcile(c.Context, temporal.ReconcileTransferInput{
					Signature:            t.Signature,
					Sender:               t.Sender,
					Recipient:            t.Recipient,
					Lamports:             uint64(t.Lamports),
					LastValidBlockHeight: uint64(t.LastValidBlockHeight),
					Deadline:             deadline,
				})
				if err != nil {
					fmt.Fprintf(os.Stderr, "✗ %s: %v\n", t.Signature, err)
					continue
				}
				started++
				fmt.Fprintf(c.App.Writer, "✓ reconciling %s\n", t.Signature)
			}

			fmt.Fprintf(os.Stderr, "\nStarted %d of %d\n", started, len(transfers))
			if started < len(transfers) {
				return fmt.Errorf("%d reconciliations failed to start", len(transfers)-started)
			}
			return nil
		},
	}
}

// getTemporalClient connects using the global temporal flags.
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		logger,
	)
}
