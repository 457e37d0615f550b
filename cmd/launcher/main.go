package main

import (
	"io"
	"log"
	"os"

	"github.com/ruteri/agent-launch-provisioner/cmd/flags"
	"github.com/urfave/cli/v2"
)

var flagOutput = &cli.StringFlag{
	Name:  "output",
	Value: outputJSON,
	Usage: "output format: json or text",
}

var flagAddress = &cli.StringFlag{
	Name:     "address",
	Required: true,
	Usage:    "address of the hosted process",
}

var tokenFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "token-name",
		Usage: "token name, deploy defaults it to --name (max 32 characters)",
	},
	&cli.StringFlag{
		Name:  "symbol",
		Usage: "token ticker symbol (max 11 characters)",
	},
	&cli.StringFlag{
		Name:  "description",
		Usage: "token description",
	},
	&cli.StringFlag{
		Name:  "image",
		Usage: "token image URL",
	},
	&cli.Int64Flag{
		Name:  "chain-id",
		Usage: "chain to register the token on, overrides --chain",
	},
}

func newApp(stdout io.Writer) *cli.App {
	return &cli.App{
		Name:      "launcher",
		Usage:     "Provision hosted agents and register their tokens",
		Writer:    stdout,
		Flags:     append(append([]cli.Flag{flagOutput}, flags.ProviderFlags...), flags.LogFlags...),
		Before:    validateOutput,
		ErrWriter: os.Stderr,
		Commands: []*cli.Command{
			{
				Name:  "deploy",
				Usage: "Provision a process from source files and optionally register a token",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "name",
						Required: true,
						Usage:    "display name of the process (max 64 characters)",
					},
					&cli.StringSliceFlag{
						Name:     "source",
						Required: true,
						Usage:    "source file to upload, may be repeated; the first one is the entry file",
					},
					&cli.StringSliceFlag{
						Name:  "secret",
						Usage: "secret as NAME=REF, may be repeated",
					},
					&cli.BoolFlag{
						Name:  "inject-api-key",
						Usage: "also set the API keys as AGENTVERSE_API_KEY and AGENTLAUNCH_API_KEY secrets",
					},
					&cli.StringFlag{
						Name:  "profile",
						Usage: "hosting profile or region, provider default when empty",
					},
					&cli.BoolFlag{
						Name:  "register",
						Usage: "register a token once the process compiled",
					},
					flags.ArchiveURIFlag,
				}, tokenFlags...),
				Action: deployCommand,
			},
			{
				Name:   "register",
				Usage:  "Register a token for an already provisioned process",
				Flags:  append([]cli.Flag{flagAddress}, tokenFlags...),
				Action: registerCommand,
			},
			{
				Name:   "status",
				Usage:  "Show the compile and run state of a process",
				Flags:  []cli.Flag{flagAddress},
				Action: statusCommand,
			},
			{
				Name:   "list",
				Usage:  "List the processes of the account",
				Action: listCommand,
			},
			{
				Name:  "swarm",
				Usage: "Provision every member of a swarm manifest and share their addresses",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "manifest",
						Required: true,
						Usage:    "path to the swarm manifest YAML",
					},
					flags.ArchiveURIFlag,
				},
				Action: swarmCommand,
			},
			{
				Name:  "check-token",
				Usage: "Check whether the token contract was deployed after the handoff",
				Flags: []cli.Flag{
					flags.RpcAddrFlag,
					&cli.StringFlag{
						Name:     "token-address",
						Required: true,
						Usage:    "token contract address",
					},
				},
				Action: checkTokenCommand,
			},
			{
				Name:  "show-report",
				Usage: "Print an archived pipeline report",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     flags.ArchiveURIFlag.Name,
						Required: true,
						Usage:    flags.ArchiveURIFlag.Usage,
					},
					&cli.StringFlag{
						Name:     "id",
						Required: true,
						Usage:    "report content ID as printed by deploy",
					},
				},
				Action: showReportCommand,
			},
		},
	}
}

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
