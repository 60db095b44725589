// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command mnemo is the personal knowledge service CLI.
//
// Usage:
//
//	mnemo serve --port 8700
//	mnemo ingest ~/notes --recursive
//	mnemo search "kubernetes upgrade window"
//	mnemo chat
package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Ingest   IngestCmd   `cmd:"" help:"Ingest files or directories."`
	Search   SearchCmd   `cmd:"" help:"Search the corpus."`
	Chat     ChatCmd     `cmd:"" help:"Ask a question, or start an interactive session."`
	Stats    StatsCmd    `cmd:"" help:"Show corpus statistics."`
	Delete   DeleteCmd   `cmd:"" help:"Delete a document from every index."`
	OCR      OCRCmd      `cmd:"" help:"Manage the re-OCR queue."`
	Vocab    VocabCmd    `cmd:"" help:"Inspect the controlled vocabulary."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, json)." default:"simple"`
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("mnemo"),
		kong.Description("Personal knowledge ingestion and retrieval service."),
		kong.UsageOnError(),
	)

	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	cleanup, err := setupLogging(&cli)
	if err != nil {
		kctx.FatalIfErrorf(err)
	}
	defer cleanup()

	kctx.FatalIfErrorf(kctx.Run(&cli))
}

func setupLogging(cli *CLI) (func(), error) {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		file, closeFile, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, err
		}
		output, cleanup = file, closeFile
	}
	logger.Init(level, output, cli.LogFormat)
	return cleanup, nil
}

// loadConfig reads the config file (or the zero config), layers env
// overrides, and validates.
func loadConfig(ctx context.Context, cli *CLI) (*config.Config, error) {
	var cfg *config.Config
	if cli.Config != "" {
		loaded, loader, err := config.LoadConfigFile(ctx, cli.Config)
		if err != nil {
			return nil, err
		}
		loader.Close()
		cfg = loaded
	} else {
		cfg = &config.Config{}
	}

	config.ApplyEnvOverrides(cfg)
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("mnemo version %s\n", version)
	return nil
}

// ValidateCmd checks the configuration without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(context.Background(), cli)
	if err != nil {
		return err
	}
	fmt.Printf("Configuration valid (data dir: %s)\n", cfg.Storage.DataDir)
	return nil
}
