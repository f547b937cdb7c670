package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "coinwatch",
		Usage: "Watch-and-earn coin ledger with video moderation",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to a YAML config file", EnvVars: []string{"COINWATCH_CONFIG"}},
			&cli.StringFlag{Name: "env", Aliases: []string{"e"}, Usage: "Environment name used with --config", Value: "development"},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and background workers",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Apply pending database migrations and exit",
				Action: migrate,
			},
			{
				Name:  "grant-admin",
				Usage: "Grant admin rights to an account, creating it when a password is given",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Account name", Required: true},
					&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "Password for a new account"},
				},
				Action: grantAdmin,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
