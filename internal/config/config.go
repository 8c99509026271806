// Package config loads the settings of the scriptvm command from flags,
// SCRIPTVM_ prefixed environment variables and an optional config file, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ArkLabsHQ/scriptvm/pkg/interop"
	"github.com/ArkLabsHQ/scriptvm/pkg/script"
	"github.com/ArkLabsHQ/scriptvm/pkg/verifier"
)

// Configuration keys.  They double as flag names.
const (
	KeyConfigFile   = "config"
	KeyLogLevel     = "log.level"
	KeyLogFormat    = "log.format"
	KeyNetwork      = "network"
	KeyWorkers      = "verify.workers"
	KeyVerifyFlags  = "verify.flags"
	KeyShareHashes  = "verify.cache"
	KeySigCacheSize = "verify.sigcache"

	envPrefix = "SCRIPTVM"
)

// Values of the log.format key.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// ErrInvalidValue is returned for settings outside their allowed values.
var ErrInvalidValue = errors.New("invalid config value")

// Config holds the resolved settings.
type Config struct {
	LogLevel    log.Level
	LogFormat   string
	ChainParams *chaincfg.Params

	Workers      int
	VerifyFlags  script.ScriptFlags
	ShareHashes  bool
	SigCacheSize uint
}

// NewFlagSet returns the flags Load understands, with their defaults.
func NewFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("scriptvm", pflag.ContinueOnError)

	flags.String(KeyConfigFile, "", "path to a config file")
	flags.String(KeyLogLevel, "info", "log level")
	flags.String(KeyLogFormat, LogFormatText, "log format: text or json")
	flags.String(KeyNetwork, "mainnet", "network addresses are encoded for")
	flags.Int(KeyWorkers, 0, "inputs verified concurrently, 0 for one per CPU")
	flags.String(KeyVerifyFlags, "standard",
		"script verification rules: standard or consensus")
	flags.Bool(KeyShareHashes, true,
		"share sighash midstates between the inputs of a transaction")
	flags.Uint(KeySigCacheSize, 10000,
		"verified signatures to remember, 0 to disable the cache")

	return flags
}

// Load resolves the configuration.  Flags that were not set on the command
// line fall back to the environment, then the config file, then their
// defaults.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}

	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	level, err := log.ParseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, KeyLogLevel, err)
	}

	format := strings.ToLower(v.GetString(KeyLogFormat))
	if format != LogFormatText && format != LogFormatJSON {
		return nil, fmt.Errorf("%w: %s: %q", ErrInvalidValue, KeyLogFormat,
			format)
	}

	params, err := interop.ChainParams(v.GetString(KeyNetwork))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, KeyNetwork, err)
	}

	verifyFlags, err := script.ParseVerifyFlags(v.GetString(KeyVerifyFlags))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, KeyVerifyFlags,
			err)
	}

	workers := v.GetInt(KeyWorkers)
	if workers < 0 {
		return nil, fmt.Errorf("%w: %s: %d", ErrInvalidValue, KeyWorkers,
			workers)
	}

	return &Config{
		LogLevel:     level,
		LogFormat:    format,
		ChainParams:  params,
		Workers:      workers,
		VerifyFlags:  verifyFlags,
		ShareHashes:  v.GetBool(KeyShareHashes),
		SigCacheSize: v.GetUint(KeySigCacheSize),
	}, nil
}

// ConfigureLogging applies the log level and format to the standard logger.
func (c *Config) ConfigureLogging() {
	log.SetLevel(c.LogLevel)

	if c.LogFormat == LogFormatJSON {
		log.SetFormatter(&log.JSONFormatter{})
		return
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

// VerifierOptions returns the verifier settings of the configuration.
func (c *Config) VerifierOptions() []verifier.Option {
	opts := []verifier.Option{
		verifier.WithFlags(c.VerifyFlags),
		verifier.WithWorkers(c.Workers),
		verifier.WithSharedSighashCache(c.ShareHashes),
	}
	if c.SigCacheSize > 0 {
		opts = append(opts, verifier.WithSigCache(
			script.NewSigCache(c.SigCacheSize),
		))
	}
	return opts
}
