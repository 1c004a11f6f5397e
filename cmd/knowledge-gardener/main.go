// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the knowledge-gardener CLI. It runs
// the six-stage maintenance chain against a LightRAG knowledge base, once or
// on a cron schedule, and reads back the reports each stage leaves behind.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	yaml "go.yaml.in/yaml/v3"

	"github.com/pdiddy/knowledge-gardener/internal/secrets"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// cfg is the resolved configuration, filled in PersistentPreRunE.
	cfg types.Config

	logger = zap.NewNop()
)

// rootCmd is the base command for the knowledge-gardener CLI.
var rootCmd = &cobra.Command{
	Use:   "knowledge-gardener",
	Short: "Keep a LightRAG knowledge base healthy and growing",
	Long: `knowledge-gardener runs a chain of language-model agents over a LightRAG
knowledge base: the analyst finds gaps, the researcher searches for sources,
the curator ranks and ingests them, the auditor looks for problems, the fixer
repairs them after human approval, and the advisor recommends next steps.

Every stage writes a report; later stages read earlier ones. Use run for the
full chain, stage for one stage, and schedule to run the chain on a cron.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		l, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		logger = l

		s, err := secrets.Load(".secrets/", logger)
		if err != nil {
			return err
		}
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debug("loaded secrets", zap.Strings("keys", keys))
		}
		secrets.Apply(&cfg, s)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./knowledge-gardener.yaml or ~/.config/knowledge-gardener/knowledge-gardener.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log encoding: console or json")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("knowledge-gardener")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "knowledge-gardener"))
		}
	}

	bindEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// bindEnv maps model.api_key to KNOWLEDGE_GARDENER_MODEL_API_KEY and so on.
func bindEnv() {
	viper.SetEnvPrefix("KNOWLEDGE_GARDENER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// loadConfig registers every default as a viper key, so environment
// variables can override any of them, and unmarshals the result into cfg.
func loadConfig() error {
	defaults, err := defaultKeys()
	if err != nil {
		return err
	}
	for k, v := range defaults {
		viper.SetDefault(k, v)
	}
	// Credentials are omitted from the defaults but still come from the env.
	for _, k := range []string{"model.api_key", "lightrag.api_key", "search.google_api_key", "search.google_cse_id", "search.openalex_email", "store.dsn", "stage.prompt_dir"} {
		_ = viper.BindEnv(k)
	}

	c := types.Defaults()
	if err := viper.Unmarshal(&c); err != nil {
		return fmt.Errorf("parsing configuration: %w", err)
	}
	cfg = c
	return nil
}

// defaultKeys flattens types.Defaults into dotted viper keys.
func defaultKeys() (map[string]any, error) {
	data, err := yaml.Marshal(types.Defaults())
	if err != nil {
		return nil, fmt.Errorf("encoding defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decoding defaults: %w", err)
	}
	out := make(map[string]any)
	flatten("", tree, out)
	return out, nil
}

func flatten(prefix string, tree map[string]any, out map[string]any) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flatten(key, sub, out)
			continue
		}
		out[key] = v
	}
}

// newLogger builds the process logger on stderr.
func newLogger(lc types.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.Sampling = nil
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	switch lc.Format {
	case "json":
		zc.Encoding = "json"
	case "console", "":
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q: use console or json", lc.Format)
	}
	return zc.Build()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
