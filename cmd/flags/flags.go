package flags

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/agent-launch-provisioner/api"
	"github.com/ruteri/agent-launch-provisioner/api/clients"
	"github.com/ruteri/agent-launch-provisioner/common"
	"github.com/ruteri/agent-launch-provisioner/pipeline"
	"github.com/ruteri/agent-launch-provisioner/provisioning"
	"github.com/ruteri/agent-launch-provisioner/registration"
	"github.com/ruteri/agent-launch-provisioner/secretstore"
	"github.com/ruteri/agent-launch-provisioner/storage"
	"github.com/urfave/cli/v2"
)

// ErrMissingAPIKey is returned when no hosting API key was given.
var ErrMissingAPIKey = errors.New("an Agentverse API key is required (--api-key or AGENTVERSE_API_KEY)")

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
		Output:  cCtx.App.ErrWriter,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	metricsAddr := cCtx.String("metrics-addr")
	enablePprof := cCtx.Bool("pprof")
	drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

	// a pipeline request lives as long as its poll budget
	writeTimeout := 30*time.Second + provisioning.Budget(PollStrategy(cCtx))

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: writeTimeout,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             writeTimeout,
	}
}

// APIKeys returns the hosting key and the registration key, which defaults to the hosting key.
func APIKeys(cCtx *cli.Context) (hostingKey, launchKey string, err error) {
	hostingKey = cCtx.String(APIKeyFlag.Name)
	if hostingKey == "" {
		return "", "", ErrMissingAPIKey
	}

	launchKey = cCtx.String(LaunchAPIKeyFlag.Name)
	if launchKey == "" {
		launchKey = hostingKey
	}
	return hostingKey, launchKey, nil
}

// PollStrategy builds the poll strategy from the poll flags.
func PollStrategy(cCtx *cli.Context) provisioning.PollStrategy {
	interval := cCtx.Duration(PollIntervalFlag.Name)
	attempts := cCtx.Int(PollAttemptsFlag.Name)

	if cCtx.Bool(PollBackoffFlag.Name) {
		return provisioning.ExponentialBackoff{
			Initial:    interval,
			Max:        cCtx.Duration(PollMaxIntervalFlag.Name),
			Multiplier: 2,
			Attempts:   attempts,
		}
	}
	return provisioning.FixedInterval{Interval: interval, Attempts: attempts}
}

// PipelineConfig assembles the orchestrator configuration from the common flags.
func PipelineConfig(cCtx *cli.Context) (pipeline.Config, error) {
	hostingKey, launchKey, err := APIKeys(cCtx)
	if err != nil {
		return pipeline.Config{}, err
	}

	chainID, err := ChainID(cCtx)
	if err != nil {
		return pipeline.Config{}, err
	}

	poll := PollStrategy(cCtx)
	if err := poll.Validate(); err != nil {
		return pipeline.Config{}, fmt.Errorf("check --poll-attempts, --poll-interval and --poll-max-interval: %w", err)
	}

	return pipeline.Config{
		HostingURL:     cCtx.String(HostingURLFlag.Name),
		HostingToken:   hostingKey,
		LaunchURL:      cCtx.String(LaunchURLFlag.Name),
		LaunchToken:    launchKey,
		FrontendURL:    cCtx.String(FrontendURLFlag.Name),
		DefaultChainID: chainID,
		Poll:           poll,
		Sleeper:        provisioning.RealSleeper,
		RequestTimeout: cCtx.Duration(RequestTimeoutFlag.Name),
	}, nil
}

// ChainID reads --chain, which accepts a numeric ID or a chain key such as "bsc".
func ChainID(cCtx *cli.Context) (int64, error) {
	value := cCtx.String(ChainFlag.Name)
	if value == "" {
		return registration.DefaultChainID, nil
	}

	if id, err := strconv.ParseInt(value, 10, 64); err == nil {
		return id, nil
	}

	chain, err := registration.ChainByKey(value)
	if err != nil {
		return 0, err
	}
	return chain.ID, nil
}

// HostingClient creates a hosting client from the common flags.
func HostingClient(cCtx *cli.Context, logger *slog.Logger) (*clients.HostingClient, error) {
	hostingKey, _, err := APIKeys(cCtx)
	if err != nil {
		return nil, err
	}
	return clients.NewHostingClient(cCtx.String(HostingURLFlag.Name), hostingKey, logger, cCtx.Duration(RequestTimeoutFlag.Name)), nil
}

// SecretResolver creates a resolver, backed by Vault when --vault-addr is set.
func SecretResolver(cCtx *cli.Context, logger *slog.Logger) (*secretstore.Resolver, error) {
	addr := cCtx.String(VaultAddrFlag.Name)
	if addr == "" {
		return secretstore.NewResolver(nil), nil
	}

	vault, err := secretstore.NewVaultKV(addr, cCtx.String(VaultTokenFlag.Name), logger)
	if err != nil {
		return nil, err
	}
	return secretstore.NewResolver(vault), nil
}

// OpenArchive opens the archive named by --archive-uri. It returns nil when none was given.
func OpenArchive(cCtx *cli.Context, logger *slog.Logger) (*storage.Archive, error) {
	uris := cCtx.StringSlice(ArchiveURIFlag.Name)
	if len(uris) == 0 {
		return nil, nil
	}
	return storage.OpenArchive(storage.NewStorageBackendFactory(logger), uris)
}

var HostingURLFlag = &cli.StringFlag{
	Name:    "hosting-url",
	Value:   clients.DefaultHostingURL,
	EnvVars: []string{"AGENTVERSE_API_URL"},
	Usage:   "base URL of the hosting provider API",
}
var LaunchURLFlag = &cli.StringFlag{
	Name:    "launch-url",
	Value:   registration.DefaultLaunchURL,
	EnvVars: []string{"AGENT_LAUNCH_API_URL"},
	Usage:   "base URL of the token registration API",
}
var FrontendURLFlag = &cli.StringFlag{
	Name:    "frontend-url",
	Value:   registration.DefaultFrontendURL,
	EnvVars: []string{"AGENT_LAUNCH_FRONTEND_URL"},
	Usage:   "base URL handoff links point to",
}
var APIKeyFlag = &cli.StringFlag{
	Name:    "api-key",
	EnvVars: []string{"AGENTVERSE_API_KEY"},
	Usage:   "Agentverse API key used as bearer token for the hosting provider",
}
var LaunchAPIKeyFlag = &cli.StringFlag{
	Name:    "launch-api-key",
	EnvVars: []string{"AGENTLAUNCH_API_KEY"},
	Usage:   "API key for the token registration API, defaults to --api-key",
}
var ChainFlag = &cli.StringFlag{
	Name:  "chain",
	Usage: "default chain for registrations, numeric ID or key (bsc, bsc-mainnet, eth)",
}

var PollIntervalFlag = &cli.DurationFlag{
	Name:  "poll-interval",
	Value: provisioning.DefaultPollInterval,
	Usage: "wait before each compile status check",
}
var PollAttemptsFlag = &cli.IntFlag{
	Name:  "poll-attempts",
	Value: provisioning.DefaultPollMaxAttempts,
	Usage: "maximum number of compile status checks",
}
var PollBackoffFlag = &cli.BoolFlag{
	Name:  "poll-backoff",
	Usage: "double the wait after every status check instead of a fixed interval",
}
var PollMaxIntervalFlag = &cli.DurationFlag{
	Name:  "poll-max-interval",
	Value: time.Minute,
	Usage: "cap of the wait between status checks with --poll-backoff",
}
var RequestTimeoutFlag = &cli.DurationFlag{
	Name:  "request-timeout",
	Value: clients.DefaultTimeout,
	Usage: "timeout of every single API request",
}

var VaultAddrFlag = &cli.StringFlag{
	Name:    "vault-addr",
	EnvVars: []string{"VAULT_ADDR"},
	Usage:   "Vault address for resolving vault: secret references",
}
var VaultTokenFlag = &cli.StringFlag{
	Name:    "vault-token",
	EnvVars: []string{"VAULT_TOKEN"},
	Usage:   "Vault token for resolving vault: secret references",
}
var ArchiveURIFlag = &cli.StringSliceFlag{
	Name:  "archive-uri",
	Usage: "storage location for pipeline reports (file://, s3://, ipfs://), may be repeated",
}

var RpcAddrFlag = &cli.StringFlag{
	Name:  "rpc-addr",
	Value: "https://data-seed-prebsc-1-s1.bnbchain.org:8545",
	Usage: "address to connect to RPC",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlagFn(common.PackageName),
}

// ProviderFlags configure the remote APIs and the poll budget.
var ProviderFlags = []cli.Flag{
	HostingURLFlag,
	LaunchURLFlag,
	FrontendURLFlag,
	APIKeyFlag,
	LaunchAPIKeyFlag,
	ChainFlag,
	PollIntervalFlag,
	PollAttemptsFlag,
	PollBackoffFlag,
	PollMaxIntervalFlag,
	RequestTimeoutFlag,
	VaultAddrFlag,
	VaultTokenFlag,
}

var ServerFlags = []cli.Flag{
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
