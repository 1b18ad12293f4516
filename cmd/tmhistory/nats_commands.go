package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/tmhistory/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func natsCommands() *cli.Command {
	return &cli.Command{
		Name:  "nats",
		Usage: "Follow transfer events published by fetches",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
		},
		Subcommands: []*cli.Command{
			subscribeCommand(),
			inspectStreamCommand(),
		},
	}
}

// subscribeCommand streams transfer events for an account.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Stream transfer events for an account",
		ArgsUsage: "[ACCOUNT]",
		Description: `Stream transfer events published to NATS JetStream by fetches that had
publishing enabled.

Events are published to the subject: history.{account}

Example:
  tmhistory nats subscribe cosmos1... --all --json`,
		Flags: []cli.Flag{
			accountFlag(),
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "tmhistory-cli",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay every retained event instead of only new ones",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Stop after this long (0 waits for Ctrl-C)",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output events as JSON lines",
			},
		},
		Action: func(c *cli.Context) error {
			account, err := accountArg(c)
			if err != nil {
				return err
			}

			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: natspkg.Subject(account),
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

			return streamTransfers(c, consumerConfig)
		},
	}
}

// streamTransfers connects to NATS and prints events until interrupted.
func streamTransfers(c *cli.Context, consumerConfig jetstream.ConsumerConfig) error {
	natsURL := c.String("nats-url")
	jsonOutput := c.Bool("json")

	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout := c.Duration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !jsonOutput {
		fmt.Fprintf(os.Stderr, "Subscribing to: %s\n", consumerConfig.FilterSubject)
		fmt.Fprintf(os.Stderr, "  NATS: %s\n", natsURL)
		if consumerConfig.Durable != "" {
			fmt.Fprintf(os.Stderr, "  Consumer: %s (durable)\n", consumerConfig.Durable)
		}
		fmt.Fprintf(os.Stderr, "\nWaiting for transfers... (Ctrl-C to exit)\n\n")
	}

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.TransferEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				msg.Ack()
				continue
			}
			count++

			if jsonOutput {
				data, _ := json.Marshal(event)
				fmt.Println(string(data))
			} else {
				printTransferEvent(os.Stdout, count, &event)
			}
			msg.Ack()

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "\nReceived %d transfers\n", count)
			}
			return nil
		}
	}
}

func printTransferEvent(w io.Writer, n int, event *natspkg.TransferEvent) {
	fmt.Fprintf(w, "Transfer #%d\n", n)
	fmt.Fprintf(w, "  Tx:         %s (height %d)\n", event.TxHash, event.Height)
	fmt.Fprintf(w, "  Time:       %s\n", timestampOrDash(event.Timestamp))
	fmt.Fprintf(w, "  Kind:       %s\n", event.Kind)
	fmt.Fprintf(w, "  Direction:  %s\n", event.Direction)
	fmt.Fprintf(w, "  From:       %s\n", event.From)
	fmt.Fprintf(w, "  To:         %s\n", event.To)
	fmt.Fprintf(w, "  Amount:     %s\n", formatCoins(event.Amount))
	if !event.Success {
		fmt.Fprintf(w, "  Status:     failed\n")
	}
	fmt.Fprintf(w, "  Run:        %s\n", event.RunID)
	fmt.Fprintf(w, "  Published:  %s\n\n", event.PublishedAt.Format(time.RFC3339))
}

// inspectStreamCommand shows information about the history stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the " + natspkg.StreamName + " JetStream stream",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return printJSON(os.Stdout, info)
			}

			fmt.Printf("Stream: %s\n", info.Config.Name)
			fmt.Printf("Description:  %s\n", info.Config.Description)
			fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
			fmt.Printf("Messages:     %d\n", info.State.Msgs)
			fmt.Printf("Bytes:        %d\n", info.State.Bytes)
			fmt.Printf("First Seq:    %d\n", info.State.FirstSeq)
			fmt.Printf("Last Seq:     %d\n", info.State.LastSeq)
			fmt.Printf("Consumers:    %d\n", info.State.Consumers)
			fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
			fmt.Printf("Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}
