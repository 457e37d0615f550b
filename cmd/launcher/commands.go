package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/agent-launch-provisioner/cmd/flags"
	"github.com/ruteri/agent-launch-provisioner/codebundle"
	"github.com/ruteri/agent-launch-provisioner/interfaces"
	"github.com/ruteri/agent-launch-provisioner/pipeline"
	"github.com/ruteri/agent-launch-provisioner/provisioning"
	"github.com/ruteri/agent-launch-provisioner/registration"
	"github.com/ruteri/agent-launch-provisioner/secretstore"
	"github.com/ruteri/agent-launch-provisioner/storage"
	"github.com/urfave/cli/v2"
)

// Secret names the API keys are injected under with --inject-api-key.
const (
	HostingKeySecret = "AGENTVERSE_API_KEY"
	LaunchKeySecret  = "AGENTLAUNCH_API_KEY"
)

// errFailed exits with status 1 after the partial result was printed.
var errFailed = cli.Exit("", 1)

func signalContext(cCtx *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
}

func deployCommand(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	ctx, cancel := signalContext(cCtx)
	defer cancel()

	cfg, err := flags.PipelineConfig(cCtx)
	if err != nil {
		return err
	}
	// Ctrl-C ends a poll wait right away instead of after the interval.
	cfg.Sleeper = provisioning.InterruptibleSleeper

	resolver, err := flags.SecretResolver(cCtx, logger)
	if err != nil {
		return err
	}

	archive, err := flags.OpenArchive(cCtx, logger)
	if err != nil {
		return err
	}

	req, err := buildDeployRequest(ctx, cCtx, cfg, resolver)
	if err != nil {
		return err
	}

	result := pipeline.New(cfg, logger).Run(ctx, req)
	if archive != nil {
		archiveResult(ctx, logger, archive, req, result)
	}

	if err := newPrinter(cCtx).print(result); err != nil {
		return err
	}
	if !result.Succeeded() {
		return errFailed
	}
	return nil
}

// buildDeployRequest loads sources and resolves secrets. Nothing remote is
// touched. Bundle validation is left to the create step so that it shows up in
// the printed result.
func buildDeployRequest(ctx context.Context, cCtx *cli.Context, cfg pipeline.Config, resolver *secretstore.Resolver) (*pipeline.Request, error) {
	files, err := codebundle.LoadFiles(cCtx.StringSlice("source"))
	if err != nil {
		return nil, err
	}

	secrets := make([]interfaces.Secret, 0, len(cCtx.StringSlice("secret"))+2)
	for _, assignment := range cCtx.StringSlice("secret") {
		secret, err := secretstore.ParseAssignment(assignment)
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, secret)
	}

	secrets, err = resolver.ResolveAll(ctx, secrets)
	if err != nil {
		return nil, fmt.Errorf("could not resolve secrets: %w", err)
	}

	if cCtx.Bool("inject-api-key") {
		secrets = append(secrets,
			interfaces.Secret{Name: HostingKeySecret, Value: cfg.HostingToken},
			interfaces.Secret{Name: LaunchKeySecret, Value: cfg.LaunchToken},
		)
	}

	req := &pipeline.Request{
		ProvisioningRequest: interfaces.ProvisioningRequest{
			Name:    cCtx.String("name"),
			Files:   files,
			Secrets: secrets,
			Profile: cCtx.String("profile"),
		},
		RegisterAfter: cCtx.Bool("register"),
	}
	if req.RegisterAfter {
		meta := tokenMetadata(cCtx)
		if meta.Name == "" {
			meta.Name = req.Name
		}
		req.Registration = &meta
	}

	return req, nil
}

func tokenMetadata(cCtx *cli.Context) interfaces.RegistrationMetadata {
	return interfaces.RegistrationMetadata{
		Name:        cCtx.String("token-name"),
		Symbol:      cCtx.String("symbol"),
		Description: cCtx.String("description"),
		Image:       cCtx.String("image"),
		ChainID:     cCtx.Int64("chain-id"),
	}
}

// archiveResult stores the report and the uploaded bundle. Failures are logged only.
func archiveResult(ctx context.Context, logger *slog.Logger, archive *storage.Archive, req *pipeline.Request, result *interfaces.PipelineResult) {
	if encoded, err := codebundle.Encode(req.Files); err == nil {
		if id, err := archive.StoreBundle(ctx, encoded); err != nil {
			logger.Warn("Failed to archive bundle", "err", err)
		} else {
			logger.Info("Archived bundle", "bundle_id", id.String())
		}
	}

	id, err := archive.StoreResult(ctx, result)
	if err != nil {
		logger.Warn("Failed to archive report", "err", err, "run_id", result.RunID)
		return
	}
	logger.Info("Archived report", "report_id", id.String(), "run_id", result.RunID)
}

func registerCommand(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	ctx, cancel := signalContext(cCtx)
	defer cancel()

	cfg, err := flags.PipelineConfig(cCtx)
	if err != nil {
		return err
	}

	address := interfaces.ProcessAddress(cCtx.String(flagAddress.Name))
	record, err := pipeline.New(cfg, logger).Registrar().Register(ctx, address, tokenMetadata(cCtx))
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	return newPrinter(cCtx).print(record)
}

func statusCommand(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	hosting, err := flags.HostingClient(cCtx, logger)
	if err != nil {
		return err
	}

	address := interfaces.ProcessAddress(cCtx.String(flagAddress.Name))
	status, err := hosting.GetStatus(cCtx.Context, address)
	if err != nil {
		return fmt.Errorf("could not get status of %s: %w", address, err)
	}
	if status.Address == "" {
		status.Address = address.String()
	}
	return newPrinter(cCtx).print(status)
}

func listCommand(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	hosting, err := flags.HostingClient(cCtx, logger)
	if err != nil {
		return err
	}

	items, err := hosting.ListProcesses(cCtx.Context)
	if err != nil {
		return fmt.Errorf("could not list processes: %w", err)
	}
	return newPrinter(cCtx).print(items)
}

func swarmCommand(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	ctx, cancel := signalContext(cCtx)
	defer cancel()

	cfg, err := flags.PipelineConfig(cCtx)
	if err != nil {
		return err
	}
	// Ctrl-C ends a poll wait right away instead of after the interval.
	cfg.Sleeper = provisioning.InterruptibleSleeper

	resolver, err := flags.SecretResolver(cCtx, logger)
	if err != nil {
		return err
	}

	archive, err := flags.OpenArchive(cCtx, logger)
	if err != nil {
		return err
	}

	manifest, err := pipeline.LoadManifest(cCtx.String("manifest"))
	if err != nil {
		return err
	}

	members, err := manifest.BuildMembers(ctx, resolver)
	if err != nil {
		return err
	}

	result := pipeline.New(cfg, logger).RunSwarm(ctx, members)
	if archive != nil {
		for i, m := range result.Members {
			archiveResult(ctx, logger, archive, members[i].Request, m.Result)
		}
	}

	if err := newPrinter(cCtx).print(result); err != nil {
		return err
	}
	if !result.Succeeded() {
		return errFailed
	}
	return nil
}

// TokenDeployment is the output of check-token.
type TokenDeployment struct {
	TokenAddress string `json:"token_address"`
	Deployed     bool   `json:"deployed"`
}

func checkTokenCommand(cCtx *cli.Context) error {
	ctx, cancel := signalContext(cCtx)
	defer cancel()

	checker, err := registration.DialDeploymentChecker(ctx, cCtx.String(flags.RpcAddrFlag.Name))
	if err != nil {
		return err
	}

	tokenAddress := cCtx.String("token-address")
	deployed, err := checker.IsDeployed(ctx, tokenAddress)
	if err != nil {
		return err
	}

	if err := newPrinter(cCtx).print(&TokenDeployment{TokenAddress: tokenAddress, Deployed: deployed}); err != nil {
		return err
	}
	if !deployed {
		return errFailed
	}
	return nil
}

func showReportCommand(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	id, err := interfaces.NewContentIDFromHex(cCtx.String("id"))
	if err != nil {
		return fmt.Errorf("invalid report id: %w", err)
	}

	archive, err := flags.OpenArchive(cCtx, logger)
	if err != nil {
		return err
	}

	result, err := archive.FetchResult(cCtx.Context, id)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		return fmt.Errorf("report %s not found", id.String())
	} else if err != nil {
		return err
	}
	return newPrinter(cCtx).print(result)
}
