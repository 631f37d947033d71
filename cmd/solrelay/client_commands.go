package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solrelay/client"
	"github.com/itchyny/gojq"
	"github.com/mr-tron/base58"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with the relay",
		Subcommands: []*cli.Command{
			balanceCommand(),
			transferCommand(),
			transactionsCommand(),
			dashboardCommand(),
			streamCommand(),
		},
	}
}

func newAPIClient(c *cli.Context, timeout time.Duration) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	var httpClient *http.Client
	if timeout > 0 {
		httpClient = &http.Client{Timeout: timeout}
	}
	return client.NewClient(c.String("server-url"), c.String("token"), httpClient, logger)
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show the SOL balance of an account",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			format, err := formatFromContext(c)
			if err != nil {
				return err
			}

			bal, err := newAPIClient(c, 30*time.Second).Balance(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}

			if format.structured() {
				return format.write(c.App.Writer, bal)
			}
			fmt.Fprintf(c.App.Writer, "Address:  %s\n", bal.Address)
			fmt.Fprintf(c.App.Writer, "Balance:  %.9f SOL\n", bal.Balance)
			fmt.Fprintf(c.App.Writer, "Lamports: %d\n", bal.Lamports)
			if bal.Slot > 0 {
				fmt.Fprintf(c.App.Writer, "Slot:     %d\n", bal.Slot)
			}
			return nil
		},
	}
}

func transferCommand() *cli.Command {
	return &cli.Command{
		Name:  "transfer",
		Usage: "Send SOL from a custodial key to a recipient",
		Description: `Submit a transfer and wait for the relay to confirm it.

The sender key is read from --key-file, which may hold a base58 secret key or the
JSON byte array written by solana-keygen. Pass --idempotency-key to make retries
safe: a retried request with the same key is refused instead of sending twice.

Example:
  solrelay client transfer --from SENDER --key-file ~/.config/solana/id.json \
    --to RECIPIENT --amount 0.25 --idempotency-key order-42`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "from",
				Usage:    "Sender address",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "key-file",
				Usage:    "File holding the sender secret key",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "to",
				Usage:    "Recipient address",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "amount",
				Usage:    "Amount in SOL, e.g. 1.5",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "idempotency-key",
				Usage: "Client-chosen key that makes the request safe to retry",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 2 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			format, err := formatFromContext(c)
			if err != nil {
				return err
			}

			raw, err := os.ReadFile(c.String("key-file"))
			if err != nil {
				return fmt.Errorf("failed to read key file: %w", err)
			}
			defer clear(raw)
			secret, err := secretKeyFromFile(raw)
			if err != nil {
				return err
			}

			res, err := newAPIClient(c, c.Duration("timeout")).Transfer(c.Context, client.TransferRequest{
				SenderAddress:    c.String("from"),
				SenderPrivateKey: secret,
				RecipientAddress: c.String("to"),
				Amount:           c.String("amount"),
			}, c.String("idempotency-key"))
			if err != nil {
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && apiErr.Signature != "" {
					fmt.Fprintf(os.Stderr, "Transaction %s was signed; its outcome is %q.\n", apiErr.Signature, apiErr.Status)
					fmt.Fprintf(os.Stderr, "Check the balance or transfer history before resubmitting.\n")
				}
				return fmt.Errorf("transfer failed: %w", err)
			}

			if format.structured() {
				return format.write(c.App.Writer, res)
			}
			fmt.Fprintf(c.App.Writer, "✓ Transfer %s\n", res.Status)
			fmt.Fprintf(c.App.Writer, "  Signature: %s\n", res.Signature)
			fmt.Fprintf(c.App.Writer, "  From:      %s\n", res.Sender)
			fmt.Fprintf(c.App.Writer, "  To:        %s\n", res.Recipient)
			fmt.Fprintf(c.App.Writer, "  Amount:    %s SOL (%d lamports)\n", res.Amount, res.Lamports)
			if res.Slot > 0 {
				fmt.Fprintf(c.App.Writer, "  Slot:      %d\n", res.Slot)
			}
			return nil
		},
	}
}

// secretKeyFromFile returns the base58 form of a key file's contents. The
// file holds either base58 text or a JSON array of bytes.
func secretKeyFromFile(raw []byte) (string, error) {
	text := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(text, "[") {
		if text == "" {
			return "", fmt.Errorf("key file is empty")
		}
		return text, nil
	}

	var ints []int
	if err := json.Unmarshal([]byte(text), &ints); err != nil {
		return "", fmt.Errorf("key file is not a JSON byte array: %w", err)
	}
	defer clear(ints)
	values := make([]byte, len(ints))
	defer clear(values)
	for i, v := range ints {
		if v < 0 || v > 255 {
			return "", fmt.Errorf("key file byte %d out of range", i)
		}
		values[i] = byte(v)
	}
	return base58.Encode(values), nil
}

func transactionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "transactions",
		Aliases:   []string{"txns", "tx"},
		Usage:     "List transfers the relay recorded for an address",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   20,
				Usage:   "Maximum number of transfers to retrieve (1-1000)",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of transfers to skip",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			format, err := formatFromContext(c)
			if err != nil {
				return err
			}

			list, err := newAPIClient(c, 30*time.Second).ListTransactions(c.Context, c.Args().First(), c.Int("limit"), c.Int("offset"))
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			if format.structured() {
				return format.write(c.App.Writer, list)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNATURE\tSENDER\tRECIPIENT\tLAMPORTS\tSTATUS\tCREATED")
			for _, tx := range list.Transactions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					tx.Signature,
					tx.Sender,
					tx.Recipient,
					tx.Lamports,
					tx.Status,
					tx.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nShowing %d of %d transfers\n", list.Count, list.Total)
			return nil
		},
	}
}

func dashboardCommand() *cli.Command {
	return &cli.Command{
		Name:  "dashboard",
		Usage: "Show the dashboard greeting for the current token",
		Action: func(c *cli.Context) error {
			format, err := formatFromContext(c)
			if err != nil {
				return err
			}

			d, err := newAPIClient(c, 30*time.Second).Dashboard(c.Context)
			if err != nil {
				return fmt.Errorf("failed to load dashboard: %w", err)
			}

			if format.structured() {
				return format.write(c.App.Writer, d)
			}
			fmt.Fprintln(c.App.Writer, d.Message)
			return nil
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream status changes of transfers sent from an address (SSE)",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "where",
				Usage: `Only print events for which this jq expression is truthy, e.g. '.status == "dropped"'`,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: sender address")
			}
			format, err := formatFromContext(c)
			if err != nil {
				return err
			}
			var where *gojq.Code
			if expr := c.String("where"); expr != "" {
				if where, err = compileJQ(expr); err != nil {
					return err
				}
			}

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			if !format.structured() {
				fmt.Fprintf(os.Stderr, "Streaming transfers from %s... (Ctrl-C to exit)\n\n", c.Args().First())
			}

			err = newAPIClient(c, 0).StreamTransfers(ctx, c.Args().First(), func(e *client.TransferEvent) error {
				ok, err := matches(where, e)
				if err != nil || !ok {
					return err
				}
				return printEvent(c.App.Writer, format, e.Signature, e.Status, e.Lamports, e.ErrorKind, e.PublishedAt, e)
			})
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("stream failed: %w", err)
			}
			return nil
		},
	}
}

// matches evaluates an optional jq predicate against v.
func matches(where *gojq.Code, v interface{}) (bool, error) {
	if where == nil {
		return true, nil
	}
	generic, err := toGeneric(v)
	if err != nil {
		return false, err
	}
	out, ok := where.Run(generic).Next()
	if !ok {
		return false, nil
	}
	if err, isErr := out.(error); isErr {
		return false, fmt.Errorf("jq: %w", err)
	}
	return isTruthy(out), nil
}

func printEvent(w io.Writer, format outputFormat, signature, status string, lamports int64, errorKind string, published time.Time, raw interface{}) error {
	if format.structured() {
		return format.write(w, raw)
	}
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "Signature: %s\n", signature)
	fmt.Fprintf(w, "Status:    %s\n", status)
	fmt.Fprintf(w, "Amount:    %.9f SOL\n", float64(lamports)/1e9)
	if errorKind != "" {
		fmt.Fprintf(w, "Error:     %s\n", errorKind)
	}
	fmt.Fprintf(w, "Published: %s\n", published.Format(time.RFC3339))
	return nil
}

// signalContext is cancelled on interrupt.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
