package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/nyroxsystems-boop/partsync/internal/relay"
	"github.com/nyroxsystems-boop/partsync/internal/version"
)

func main() {
	var addr string
	var dbPath string
	var name string
	var token string
	var certFile string
	var keyFile string

	_ = godotenv.Load()

	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:     "relayd",
		Short:   "PartSync relay server",
		Version: version.Detailed(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			slog.Info("relayd", "version", version.Version, "revision", version.Revision)

			config := &relay.Config{
				Http: &relay.HttpServerConfig{
					Addr:     addr,
					CertFile: certFile,
					KeyFile:  keyFile,
				},
				DBPath: dbPath,
				Name:   name,
				Token:  token,
			}
			s, err := relay.New(config)
			if err != nil {
				return err
			}

			defer slog.Info("Bye!")
			if err := s.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringVarP(&addr, "bind", "b", relay.DefaultAddr, "Address to bind the relay")
	rootCmd.Flags().StringVar(&dbPath, "db", relay.DefaultDBPath, "Path to the history database")
	rootCmd.Flags().StringVarP(&name, "name", "n", "partsync-relay", "Relay display name")
	rootCmd.Flags().StringVarP(&token, "token", "t", os.Getenv("PARTSYNC_TOKEN"), "Shared project token required on connect")
	rootCmd.Flags().StringVarP(&certFile, "cert", "c", "", "Path to the certificate file")
	rootCmd.Flags().StringVarP(&keyFile, "key", "k", "", "Path to the key file")

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
