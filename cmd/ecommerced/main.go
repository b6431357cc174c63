package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "ecommerced",
		Usage: "order fulfillment service",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API, the gRPC health server and the notification publisher",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "with-notifier",
						Usage:   "also consume notifications in this process",
						EnvVars: []string{"WITH_NOTIFIER"},
					},
				},
				Action: runServe,
			},
			{
				Name:   "notifier",
				Usage:  "consume notifications and write them to the notifications directory",
				Action: runNotifier,
			},
			{
				Name:  "migrate",
				Usage: "migrate the database schema and optionally load seed data",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "seed",
						Usage: "insert seed data into empty tables (defaults to SEED_DATA)",
					},
				},
				Action: runMigrate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
