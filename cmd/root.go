// File: cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/probelight/specdriver/internal/config"
	"github.com/probelight/specdriver/internal/observability"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "specdriver",
	Short:   "Specdriver turns natural-language feature specs into executed browser tests.",
	Long:    "Specdriver compiles Gherkin-style feature files into execution plans and drives them against a live browser, resolving elements with a vision oracle when selectors are not enough.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initializeConfig(); err != nil {
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}

		loaded, err := config.Load(viper.GetViper())
		if err != nil {
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = loaded

		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Debug("Configuration loaded.", zap.String("version", Version))
		return nil
	},
}

// Execute runs the CLI with the context passed from main for graceful
// shutdown.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Shutdown via signal is not a failure worth logging.
		if ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newReportCmd())
}

// initializeConfig reads the config file and SPECDRIVER_ environment
// variables into viper.
func initializeConfig() error {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SPECDRIVER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Bind the strings operators actually export, plus their structured names.
	_ = viper.BindEnv("postgres.url", "SPECDRIVER_POSTGRES_URL")
	_ = viper.BindEnv("oracle.reasoning.api_key", "SPECDRIVER_API_KEY", "SPECDRIVER_ORACLE_REASONING_API_KEY")
	_ = viper.BindEnv("oracle.vision.api_key", "SPECDRIVER_API_KEY", "SPECDRIVER_ORACLE_VISION_API_KEY")

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and the environment carry it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
