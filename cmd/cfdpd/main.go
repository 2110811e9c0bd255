package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

const version = "0.1.0"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "cfdpd: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "cfdpd"
	app.HelpName = "cfdpd"
	app.Usage = "CFDP file delivery daemon and client"
	app.Version = version

	apiFlags := []cli.Flag{
		cli.StringFlag{
			Name:   "api",
			Value:  "http://127.0.0.1:4561",
			Usage:  "daemon HTTP address",
			EnvVar: "CFDPD_API",
		},
		cli.StringFlag{
			Name:   "token",
			Usage:  "bearer token for the daemon API",
			EnvVar: "CFDPD_TOKEN",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:  "serve",
			Usage: "run the local CFDP entity",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "config, c",
					Value: "config.toml",
					Usage: "config file",
				},
			},
			Action: runServe,
		},
		{
			Name:      "put",
			Usage:     "send a local file to a remote entity",
			ArgsUsage: "[FILE]",
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:  "file, f",
					Usage: "local file to send (or the first argument)",
				},
				cli.Uint64Flag{
					Name:  "dest, d",
					Usage: "destination entity id (default_destination when unset)",
				},
				cli.StringFlag{
					Name:  "target, t",
					Usage: "destination file path at the remote entity",
				},
				cli.BoolFlag{
					Name:  "overwrite",
					Usage: "replace an existing destination file",
				},
				cli.BoolFlag{
					Name:  "create-path",
					Usage: "create the destination directory first",
				},
				cli.StringFlag{
					Name:  "mode, m",
					Usage: "acknowledged|unacknowledged (entity default when unset)",
				},
				cli.StringSliceFlag{
					Name:  "message",
					Usage: "message to user, repeatable",
				},
			}, apiFlags...),
			Action: runPut,
		},
		{
			Name:  "list",
			Usage: "list transfers",
			Flags: append([]cli.Flag{
				cli.BoolFlag{
					Name:  "ongoing",
					Usage: "only transfers still in progress",
				},
			}, apiFlags...),
			Action: runList,
		},
		{
			Name:      "get",
			Usage:     "show one transfer",
			ArgsUsage: "ID",
			Flags:     apiFlags,
			Action:    runGet,
		},
		{
			Name:      "cancel",
			Usage:     "cancel a transfer",
			ArgsUsage: "ID",
			Flags:     apiFlags,
			Action:    runCancel,
		},
		{
			Name:      "purge",
			Usage:     "remove a finished transfer from the daemon",
			ArgsUsage: "ID",
			Flags:     apiFlags,
			Action:    runPurge,
		},
		{
			Name:  "config",
			Usage: "config file helpers",
			Subcommands: []cli.Command{
				{
					Name:      "init",
					Usage:     "write a config template",
					ArgsUsage: "PATH",
					Flags: []cli.Flag{
						cli.BoolFlag{
							Name:  "force, f",
							Usage: "overwrite an existing file",
						},
					},
					Action: runConfigInit,
				},
				{
					Name:      "validate",
					Usage:     "load a config file and print the resolved settings",
					ArgsUsage: "PATH",
					Action:    runConfigValidate,
				},
			},
		},
	}
	return app
}

func requireArg(c *cli.Context, name string) (string, error) {
	arg := c.Args().First()
	if arg == "" {
		return "", fmt.Errorf("%s: missing %s", c.Command.Name, name)
	}
	return arg, nil
}
