package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nyroxsystems-boop/partsync/internal/sdk"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the relay's health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			serverURL := viper.GetString("server_url")
			health, err := sdk.FetchHealth(cmd.Context(), serverURL)
			if err != nil {
				fmt.Printf("%s %s\n", red("offline"), serverURL)
				return err
			}

			fmt.Printf("%s %s\n", green("online"), cyan(serverURL))
			fmt.Printf("  name     %s\n", health.Name)
			fmt.Printf("  version  %s\n", health.Version)
			fmt.Printf("  uptime   %s\n", health.UptimeHuman)
			return nil
		},
	}
}
