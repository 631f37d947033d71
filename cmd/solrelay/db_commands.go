package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solrelay/service/db"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the transfer history schema",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(c.Context); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "✓ Schema is up to date")
			return nil
		},
	}
}

func listTransfersCommand() *cli.Command {
	return &cli.Command{
		Name:      "transfers",
		Usage:     "List recorded transfers involving an address",
		Aliases:   []string{"txs"},
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Maximum number of transfers to show",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of transfers to skip",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}
			format, err := formatFromContext(c)
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			transfers, err := store.ListTransfersByAddress(c.Context, db.ListTransfersParams{
				Address: c.Args().First(),
				Limit:   int32(c.Int("limit")),
				Offset:  int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list transfers: %w", err)
			}

			if format.structured() {
				return format.write(c.App.Writer, transfers)
			}
			printTransferTable(c.App.Writer, transfers)
			fmt.Fprintf(os.Stderr, "\nTotal: %d transfers\n", len(transfers))
			return nil
		},
	}
}

func pendingTransfersCommand() *cli.Command {
	return &cli.Command{
		Name:  "pending",
		Usage: "List transfers whose outcome is still unknown",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Maximum number of transfers to show",
				Value:   100,
			},
		},
		Action: func(c *cli.Context) error {
			format, err := formatFromContext(c)
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			transfers, err := store.ListTransfersByStatus(c.Context, "unknown", int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list transfers: %w", err)
			}

			if format.structured() {
				return format.write(c.App.Writer, transfers)
			}
			printTransferTable(c.App.Writer, transfers)
			fmt.Fprintf(os.Stderr, "\nTotal: %d unknown transfers\n", len(transfers))
			return nil
		},
	}
}

func printTransferTable(out io.Writer, transfers []*db.Transfer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNATURE\tSUBJECT\tSENDER\tRECIPIENT\tLAMPORTS\tSTATUS\tERROR\tCREATED")
	for _, t := range transfers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			t.Signature,
			t.Subject,
			t.Sender,
			t.Recipient,
			t.Lamports,
			t.Status,
			formatOptional(t.ErrorKind),
			t.CreatedAt.Format(time.RFC3339),
		)
	}
	w.Flush()
}

// getStore connects to the database named by the global flag.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()
	pool, err := db.Connect(ctx, dbURL)
	if err != nil {
		return nil, nil, err
	}

	return db.NewStore(pool, nil), pool.Close, nil
}

func formatOptional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "-"
}
