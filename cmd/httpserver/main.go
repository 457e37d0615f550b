package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/agent-launch-provisioner/api/clients"
	"github.com/ruteri/agent-launch-provisioner/api/fakeprovider"
	"github.com/ruteri/agent-launch-provisioner/api/pipelinehandler"
	"github.com/ruteri/agent-launch-provisioner/cmd/flags"
	"github.com/ruteri/agent-launch-provisioner/common"
	"github.com/ruteri/agent-launch-provisioner/httpserver"
	"github.com/ruteri/agent-launch-provisioner/metrics"
	"github.com/ruteri/agent-launch-provisioner/pipeline"
	"github.com/urfave/cli/v2"
)

// devAPIKey authenticates against the mounted fake provider.
const devAPIKey = "dev"

func main() {
	envCfg, err := parseEnvConfig(os.Environ())
	if err != nil {
		log.Fatal(err)
	}

	serverFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  "listen-addr",
			Value: envCfg.ListenAddr,
			Usage: "address to listen on for API",
		},
		&cli.BoolFlag{
			Name:  "dev-fake-provider",
			Value: envCfg.DevFakeProvider,
			Usage: "serve an in-memory hosting provider under /fake and run pipelines against it",
		},
		&cli.StringSliceFlag{
			Name:  flags.ArchiveURIFlag.Name,
			Value: cli.NewStringSlice(envCfg.ArchiveURIs...),
			Usage: flags.ArchiveURIFlag.Usage,
		},
	}

	app := &cli.App{
		Name:  "agent-launch-server",
		Usage: "Serve the agent provisioning pipeline API",
		Flags: append(append(append(serverFlags, flags.ProviderFlags...), flags.ServerFlags...), flags.LogFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)
			listenAddr := cCtx.String("listen-addr")
			devMode := cCtx.Bool("dev-fake-provider")

			var fake *fakeprovider.FakeProvider
			if devMode {
				fake = fakeprovider.New()
				fake.HandoffBase = cCtx.String(flags.FrontendURLFlag.Name)
				base := "http://" + listenAddr + "/fake"
				for name, value := range map[string]string{
					flags.HostingURLFlag.Name: base,
					flags.LaunchURLFlag.Name:  base,
					flags.APIKeyFlag.Name:     devAPIKey,
				} {
					if err := cCtx.Set(name, value); err != nil {
						return err
					}
				}
				logger.Warn("Running against the in-memory fake provider", "base", base)
			}

			pipelineCfg, err := flags.PipelineConfig(cCtx)
			if err != nil {
				return err
			}

			archive, err := flags.OpenArchive(cCtx, logger)
			if err != nil {
				logger.Error("Failed to open archive", "err", err)
				return err
			}

			hosting := clients.NewHostingClient(pipelineCfg.HostingURL, pipelineCfg.HostingToken, logger, pipelineCfg.RequestTimeout)
			orchestrator := pipeline.New(pipelineCfg, logger)

			// a nil *storage.Archive must not become a non-nil interface
			var handler *pipelinehandler.Handler
			if archive != nil {
				handler = pipelinehandler.NewHandler(orchestrator, hosting, archive, logger)
			} else {
				handler = pipelinehandler.NewHandler(orchestrator, hosting, nil, logger)
			}

			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger, listenAddr), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}
			orchestrator.WithObserver(metrics.NewPipelineMetrics(common.PackageName, server.Metrics().Registry))

			if fake != nil {
				server.Mount("/fake", fake.Handler())
			}

			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
