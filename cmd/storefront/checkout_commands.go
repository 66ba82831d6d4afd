package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/b3trbeach/storefront/client"
	"github.com/urfave/cli/v2"
)

func submitCheckoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Submit a payment for a product and begin tracking it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "product", Required: true, Usage: "Product id"},
			&cli.StringFlag{Name: "payer", Required: true, Usage: "Payer address (0x...)"},
			&cli.StringFlag{Name: "buyer-name", Usage: "Buyer name for the confirmation email"},
			&cli.StringFlag{Name: "buyer-email", Usage: "Buyer email for the confirmation email"},
			&cli.StringFlag{Name: "buyer-address", Usage: "Buyer shipping address"},
		},
		Action: func(c *cli.Context) error {
			cl := newAPIClient(c)
			pending, err := cl.SubmitCheckout(context.Background(), c.String("product"), c.String("payer"), client.Buyer{
				Name:    c.String("buyer-name"),
				Email:   c.String("buyer-email"),
				Address: c.String("buyer-address"),
			})
			if err != nil {
				return err
			}
			return printJSON(pending)
		},
	}
}

func checkoutStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the state of the active checkout",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "watch",
				Aliases: []string{"w"},
				Usage:   "Poll until the checkout reaches a terminal state",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Value: 2 * time.Second,
				Usage: "Poll interval with --watch",
			},
		},
		Action: func(c *cli.Context) error {
			cl := newAPIClient(c)
			for {
				state, err := cl.CheckoutStatus(context.Background())
				if err != nil {
					return err
				}
				if err := printJSON(state); err != nil {
					return err
				}
				if !c.Bool("watch") {
					return nil
				}
				if state.Active == nil || state.Active.Status != "pending" {
					return nil
				}
				time.Sleep(c.Duration("interval"))
			}
		},
	}
}

func abandonCheckoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "abandon",
		Usage: "Stop tracking the active transaction",
		Action: func(c *cli.Context) error {
			cl := newAPIClient(c)
			if err := cl.AbandonCheckout(context.Background()); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "checkout abandoned")
			return nil
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show an account's token and energy balances",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("address is required")
			}
			cl := newAPIClient(c)
			balance, err := cl.GetBalance(context.Background(), c.Args().Get(0))
			if err != nil {
				return err
			}
			return printJSON(balance)
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			httpClient := &http.Client{Timeout: c.Duration("timeout")}

			resp, err := httpClient.Get(serverURL + "/health")
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				fmt.Printf("server is healthy (status: %d)\n", resp.StatusCode)
				return nil
			}
			return fmt.Errorf("server returned unhealthy status: %d", resp.StatusCode)
		},
	}
}
