package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/b3trbeach/storefront/client"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func listPurchasesCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List purchase history, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 50, Usage: "Maximum rows to return"},
			&cli.IntFlag{Name: "offset", Value: 0, Usage: "Rows to skip"},
		},
		Action: func(c *cli.Context) error {
			cl := newAPIClient(c)
			purchases, err := cl.ListPurchases(context.Background(), c.Int("limit"), c.Int("offset"))
			if err != nil {
				return err
			}
			return printJSON(purchases)
		},
	}
}

func getPurchaseCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get a purchase by transaction id",
		ArgsUsage: "<tx-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("transaction id is required")
			}
			cl := newAPIClient(c)
			purchase, err := cl.GetPurchase(context.Background(), c.Args().Get(0))
			if err != nil {
				return err
			}
			return printJSON(purchase)
		},
	}
}

func createRegistrationCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Record an event signup",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "event", Required: true, Usage: "Event name"},
			&cli.StringFlag{Name: "name", Required: true, Usage: "Attendee name"},
			&cli.StringFlag{Name: "email", Required: true, Usage: "Attendee email"},
		},
		Action: func(c *cli.Context) error {
			cl := newAPIClient(c)
			reg, err := cl.CreateRegistration(context.Background(), c.String("event"), c.String("name"), c.String("email"))
			if err != nil {
				return err
			}
			return printJSON(reg)
		},
	}
}

func listRegistrationsCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "List signups for an event",
		ArgsUsage: "<event-name>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("event name is required")
			}
			cl := newAPIClient(c)
			regs, err := cl.ListRegistrations(context.Background(), c.Args().Get(0))
			if err != nil {
				return err
			}
			return printJSON(regs)
		},
	}
}

func awaitPurchaseCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a matching purchase is confirmed",
		ArgsUsage: "[payer-address]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "tx-id",
				Usage: "Match a specific transaction id",
			},
			&cli.StringFlag{
				Name:  "amount",
				Usage: "Match an exact display amount (e.g. 50.00)",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Usage:   "jq filter over the purchase event that must evaluate to true (can be given multiple times, all must match)",
				Aliases: []string{"jq"},
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for the purchase",
			},
		},
		Action: func(c *cli.Context) error {
			address := c.Args().Get(0)
			txID := c.String("tx-id")
			amount := c.String("amount")
			jqFilters := c.StringSlice("must-jq")
			timeout := c.Duration("timeout")

			if txID == "" && amount == "" && len(jqFilters) == 0 {
				return fmt.Errorf("must specify at least one filter: --tx-id, --amount, or --must-jq")
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))

			compiledJQFilters := make([]*gojq.Code, len(jqFilters))
			for i, filter := range jqFilters {
				query, err := gojq.Parse(filter)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
				}
				compiledJQFilters[i], err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
				}
			}

			cl := client.NewClient(c.String("server-url"), nil, logger)

			matcher := func(event *client.PurchaseEvent) bool {
				if txID != "" && event.TxID != txID {
					return false
				}
				if amount != "" && event.Amount != amount {
					return false
				}
				if len(compiledJQFilters) > 0 {
					input := map[string]any{
						"purchase_id":   event.PurchaseID,
						"tx_id":         event.TxID,
						"payer_address": event.PayerAddress,
						"item":          event.Item,
						"amount":        event.Amount,
					}
					for _, code := range compiledJQFilters {
						iter := code.Run(input)
						v, ok := iter.Next()
						if !ok {
							return false
						}
						if _, isErr := v.(error); isErr {
							return false
						}
						if !isTruthy(v) {
							return false
						}
					}
				}
				return true
			}

			fmt.Fprintf(os.Stderr, "Waiting for purchase")
			if address != "" {
				fmt.Fprintf(os.Stderr, " from %s", address)
			}
			fmt.Fprintf(os.Stderr, " (timeout %v)...\n", timeout)

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			event, err := cl.AwaitPurchase(ctx, address, matcher)
			if err != nil {
				return fmt.Errorf("failed to await purchase: %w", err)
			}
			return printJSON(event)
		},
	}
}

// isTruthy checks if a jq result value is truthy.
func isTruthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case nil:
		return false
	default:
		return true
	}
}
