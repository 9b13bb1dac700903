// nebulond is the Nebulon registry daemon. It serves the HTTP API over a
// SQLite or BadgerDB ledger and runs the tier and audit workers.
//
// Usage:
//
//	nebulond serve [--config nebulon.yaml] [--verbose]
//	nebulond keygen --out authority.key
//	nebulond config [--out nebulon.yaml]
package main

import (
	"crypto/ed25519"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/ssd-technologies/nebulon/internal/agent"
	"github.com/ssd-technologies/nebulon/internal/config"
	"github.com/ssd-technologies/nebulon/internal/registry"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "nebulond",
	Short: "Nebulon identity and reputation registry daemon",
	Long: `nebulond issues one non-transferable identity per agent, prices issuance
on a bonding curve, and manages reputation score, tiers and rewards.

Agents call the API with Ed25519-signed requests; see the nebulon client.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background workers",
	RunE:  runServe,
}

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the daemon's authority key",
	Long: `Generates an Ed25519 key for the daemon. Add its address as a registry
admin so the tier worker and link verification can act.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if keygenOut == "" {
			return fmt.Errorf("--out is required")
		}
		if _, err := os.Stat(keygenOut); err == nil {
			return fmt.Errorf("%s already exists", keygenOut)
		}
		priv, err := agent.GenerateKey()
		if err != nil {
			return err
		}
		if err := agent.SaveKey(keygenOut, priv); err != nil {
			return err
		}
		addr, err := registry.AddressFromKey(priv.Public().(ed25519.PublicKey))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Authority key written to %s\nAddress: %s\n", keygenOut, addr)
		return nil
	},
}

var configOut string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration, or write it with --out",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		if configOut != "" {
			if err := cfg.Save(configOut); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", configOut)
			return nil
		}
		return printYAML(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config (default: built-in defaults)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "", "Where to write the key")
	configCmd.Flags().StringVarP(&configOut, "out", "o", "", "Write the configuration to this file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds a production logger at the configured level. --verbose
// forces debug.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc.Level = level
	}
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return enc.Close()
}
