package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/ArkLabsHQ/scriptvm/internal/config"
)

const configMetadataKey = "config"

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[scriptvm] %v\n", err)
	os.Exit(1)
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fatal(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "scriptvm"
	app.Usage = "decode, inspect, sign-check and verify bitcoin transactions"
	app.Metadata = make(map[string]interface{})
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      config.KeyConfigFile,
			Usage:     "Path to a YAML, JSON or TOML config file.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name:  config.KeyLogLevel,
			Usage: "Log level: trace, debug, info, warn or error.",
		},
		cli.StringFlag{
			Name:  config.KeyLogFormat,
			Usage: "Log format: text or json.",
		},
		cli.StringFlag{
			Name:  config.KeyNetwork,
			Usage: "The network addresses are encoded for, e.g. mainnet.",
		},
		cli.StringFlag{
			Name: config.KeyWorkers,
			Usage: "Number of inputs verified concurrently, 0 for one " +
				"per CPU.",
		},
		cli.StringFlag{
			Name:  config.KeyVerifyFlags,
			Usage: "Script verification rules: standard or consensus.",
		},
		cli.StringFlag{
			Name: config.KeyShareHashes,
			Usage: "Whether the inputs of a transaction share sighash " +
				"midstates.",
		},
		cli.StringFlag{
			Name:  config.KeySigCacheSize,
			Usage: "Number of verified signatures to cache.",
		},
	}
	app.Before = loadConfig
	app.Commands = []cli.Command{
		decodeCommand,
		disasmCommand,
		classifyCommand,
		verifyCommand,
		sighashCommand,
	}

	return app
}

// loadConfig resolves the configuration from the global flags that were set,
// the environment and the config file.
func loadConfig(ctx *cli.Context) error {
	flags := config.NewFlagSet()
	for _, flag := range ctx.App.Flags {
		name := flag.GetName()
		if !ctx.IsSet(name) {
			continue
		}
		if err := flags.Set(name, ctx.String(name)); err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}
	cfg.ConfigureLogging()

	ctx.App.Metadata[configMetadataKey] = cfg
	return nil
}

func getConfig(ctx *cli.Context) *config.Config {
	return ctx.App.Metadata[configMetadataKey].(*config.Config)
}
