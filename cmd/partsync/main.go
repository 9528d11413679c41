package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nyroxsystems-boop/partsync/internal/client"
	"github.com/nyroxsystems-boop/partsync/internal/client/config"
	"github.com/nyroxsystems-boop/partsync/internal/version"
)

const configFileName = "config"

var (
	home, _ = os.UserHomeDir()

	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "partsync",
	Short:   "PartSync client",
	Version: version.Detailed(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromViper()
		if err := cfg.Validate(); err != nil {
			return err
		}

		cmd.SilenceUsage = true
		slog.Info("partsync", "version", version.Version, "revision", version.Revision)

		c, err := client.New(cfg)
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		if err := c.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.PersistentFlags().StringP("server", "s", config.DefaultServerURL, "Relay server URL")
	rootCmd.PersistentFlags().StringP("dir", "d", ".", "Project directory to sync")
	rootCmd.PersistentFlags().StringP("name", "n", "", "Client name (defaults to hostname)")
	rootCmd.PersistentFlags().StringP("token", "t", "", "Shared project token")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file path")
	rootCmd.Flags().StringSliceP("ignore", "i", nil, "Extra ignore globs")

	rootCmd.AddCommand(newStartCmd())
}

// newStartCmd runs the daemon under an explicit name; `partsync` bare
// does the same.
func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the sync daemon",
		RunE:  rootCmd.RunE,
	}
	cmd.Flags().StringSliceP("ignore", "i", nil, "Extra ignore globs")
	return cmd
}

func main() {
	_ = godotenv.Load()

	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flags().Lookup("config") != nil && cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".partsync"))
		viper.AddConfigPath(filepath.Join(home, ".config/partsync"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("server_url", cmd.Flags().Lookup("server"))
	viper.BindPFlag("data_dir", cmd.Flags().Lookup("dir"))
	viper.BindPFlag("name", cmd.Flags().Lookup("name"))
	viper.BindPFlag("token", cmd.Flags().Lookup("token"))
	if f := cmd.Flags().Lookup("ignore"); f != nil {
		viper.BindPFlag("ignore", f)
	}

	viper.SetEnvPrefix("PARTSYNC")
	viper.AutomaticEnv()

	return nil
}

func configFromViper() *config.Config {
	return &config.Config{
		Path:      viper.ConfigFileUsed(),
		Name:      viper.GetString("name"),
		DataDir:   viper.GetString("data_dir"),
		ServerURL: viper.GetString("server_url"),
		Token:     viper.GetString("token"),
		Ignore:    viper.GetStringSlice("ignore"),
	}
}
