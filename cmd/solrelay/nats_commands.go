package main

import (
	"encoding/json"
	"fmt"
	"os"

	natspkg "github.com/brojonat/solrelay/service/nats"
	"github.com/brojonat/solrelay/service/solana"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to transfer events for a sender.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to transfer events for a sender address",
		ArgsUsage: "ADDRESS",
		Description: `Subscribe to transfer status events published to NATS JetStream.

Events are published to the subject transfers.{sender_address} whenever a transfer
is recorded or reconciled.

Example:
  solrelay nats subscribe DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "solrelay-cli",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay retained events instead of only new ones",
			},
			&cli.StringFlag{
				Name:  "where",
				Usage: "Only print events for which this jq expression is truthy",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: sender address")
			}
			pk, err := solana.ParseAddress(c.Args().First())
			if err != nil {
				return err
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

			nc, err := nats.Connect(c.String("nats-url"), nats.Name("solrelay-cli"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			subject := natspkg.Subject(pk.String())
			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: jetstream.DeliverNewPolicy,
			}
			if c.Bool("all") {
				consumerConfig.DeliverPolicy = jetstream.DeliverAllPolicy
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			if !format.structured() {
				fmt.Fprintf(os.Stderr, "📡 Subscribing to: %s\n", subject)
				fmt.Fprintf(os.Stderr, "\nWaiting for transfers... (Ctrl-C to exit)\n\n")
			}

			msgChan := make(chan jetstream.Msg, 10)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-ctx.Done():
				}
			})
			if err != nil {
				return fmt.Errorf("failed to start consuming: %w", err)
			}
			defer cc.Stop()

			for {
				select {
				case msg := <-msgChan:
					var event natspkg.TransferEvent
					if err := json.Unmarshal(msg.Data(), &event); err != nil {
						fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
						msg.Ack()
						continue
					}
					msg.Ack()

					ok, err := matches(where, &event)
					if err != nil {
						return err
					}
					if !ok {
						continue
					}
					if err := printEvent(c.App.Writer, format, event.Signature, event.Status, event.Lamports, event.ErrorKind, event.PublishedAt, &event); err != nil {
						return err
					}

				case <-ctx.Done():
					return nil
				}
			}
		},
	}
}
