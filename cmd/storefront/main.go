package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:  "storefront",
		Usage: "Token storefront service CLI",
		Description: `A command-line tool for managing and debugging the storefront service.

Use this CLI to manage the catalog, drive checkouts, inspect purchase
history and wait on confirmed purchases.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			{
				Name:  "product",
				Usage: "Catalog management commands",
				Subcommands: []*cli.Command{
					createProductCommand(),
					listProductsCommand(),
					getProductCommand(),
					updateProductCommand(),
					deleteProductCommand(),
				},
			},
			{
				Name:  "checkout",
				Usage: "Checkout commands",
				Subcommands: []*cli.Command{
					submitCheckoutCommand(),
					checkoutStatusCommand(),
					abandonCheckoutCommand(),
				},
			},
			{
				Name:  "purchase",
				Usage: "Purchase history commands",
				Subcommands: []*cli.Command{
					listPurchasesCommand(),
					getPurchaseCommand(),
					awaitPurchaseCommand(),
				},
			},
			{
				Name:  "registration",
				Usage: "Event registration commands",
				Subcommands: []*cli.Command{
					createRegistrationCommand(),
					listRegistrationsCommand(),
				},
			},
			balanceCommand(),
			healthCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Storefront server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
