package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/b3trbeach/storefront/client"
	"github.com/urfave/cli/v2"
)

func newAPIClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), nil, nil)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func createProductCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Add a product to the catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Required: true, Usage: "Product name"},
			&cli.StringFlag{Name: "description", Usage: "Product description"},
			&cli.Float64Flag{Name: "price-usd", Usage: "Price in USD"},
			&cli.StringFlag{Name: "price-token", Required: true, Usage: "Price in tokens, e.g. 50.00"},
			&cli.BoolFlag{Name: "sold-out", Usage: "Mark the product sold out"},
		},
		Action: func(c *cli.Context) error {
			cl := newAPIClient(c)
			product, err := cl.CreateProduct(context.Background(), client.ProductParams{
				Name:        c.String("name"),
				Description: c.String("description"),
				PriceUSD:    c.Float64("price-usd"),
				PriceToken:  c.String("price-token"),
				SoldOut:     c.Bool("sold-out"),
			})
			if err != nil {
				return err
			}
			return printJSON(product)
		},
	}
}

func listProductsCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the catalog",
		Action: func(c *cli.Context) error {
			cl := newAPIClient(c)
			products, err := cl.ListProducts(context.Background())
			if err != nil {
				return err
			}
			return printJSON(products)
		},
	}
}

func getProductCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get a product by id",
		ArgsUsage: "<product-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("product id is required")
			}
			cl := newAPIClient(c)
			product, err := cl.GetProduct(context.Background(), c.Args().Get(0))
			if err != nil {
				return err
			}
			return printJSON(product)
		},
	}
}

func updateProductCommand() *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "Replace a product's fields",
		ArgsUsage: "<product-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Required: true, Usage: "Product name"},
			&cli.StringFlag{Name: "description", Usage: "Product description"},
			&cli.Float64Flag{Name: "price-usd", Usage: "Price in USD"},
			&cli.StringFlag{Name: "price-token", Required: true, Usage: "Price in tokens"},
			&cli.BoolFlag{Name: "sold-out", Usage: "Mark the product sold out"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("product id is required")
			}
			cl := newAPIClient(c)
			product, err := cl.UpdateProduct(context.Background(), c.Args().Get(0), client.ProductParams{
				Name:        c.String("name"),
				Description: c.String("description"),
				PriceUSD:    c.Float64("price-usd"),
				PriceToken:  c.String("price-token"),
				SoldOut:     c.Bool("sold-out"),
			})
			if err != nil {
				return err
			}
			return printJSON(product)
		},
	}
}

func deleteProductCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Remove a product from the catalog",
		ArgsUsage: "<product-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("product id is required")
			}
			cl := newAPIClient(c)
			if err := cl.DeleteProduct(context.Background(), c.Args().Get(0)); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "product deleted")
			return nil
		},
	}
}
