package main

import (
	"github.com/caarlos0/env/v11"
)

// envConfig holds deployment defaults read from LAUNCHER_* variables.
type envConfig struct {
	ListenAddr      string   `env:"LISTEN_ADDR" envDefault:"127.0.0.1:8080"`
	ArchiveURIs     []string `env:"ARCHIVE_URIS" envSeparator:","`
	DevFakeProvider bool     `env:"DEV_FAKE_PROVIDER"`
}

// parseEnvConfig parses the deployment defaults from environ.
func parseEnvConfig(environ []string) (*envConfig, error) {
	var cfg envConfig

	err := env.ParseWithOptions(&cfg, env.Options{
		Environment: env.ToMap(environ),
		Prefix:      "LAUNCHER_",
	})
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
