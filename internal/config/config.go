// Package config contains the configuration of the devcoins service.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the service configuration parameters.
type Config struct {
	RunAddress           string `env:"RUN_ADDRESS"`
	DatabaseURI          string `env:"DATABASE_URI"`
	RewriteWorkerAddress string `env:"REWRITE_WORKER_ADDRESS"`
	GithubAPIAddress     string `env:"GITHUB_API_ADDRESS"`
	SessionSecret        string `env:"SESSION_SECRET"`
}

// Parse reads the configuration from command-line flags and environment
// variables; the environment takes precedence.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envWorkerAddress := cfg.RewriteWorkerAddress
	envGithubAddress := cfg.GithubAPIAddress
	envSessionSecret := cfg.SessionSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RewriteWorkerAddress, "r", "", "rewrite worker address")
	flag.StringVar(&cfg.GithubAPIAddress, "g", "", "GitHub API address")
	flag.StringVar(&cfg.SessionSecret, "s", "", "session signing secret")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envWorkerAddress != "" {
		cfg.RewriteWorkerAddress = envWorkerAddress
	}
	if envGithubAddress != "" {
		cfg.GithubAPIAddress = envGithubAddress
	}
	if envSessionSecret != "" {
		cfg.SessionSecret = envSessionSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
