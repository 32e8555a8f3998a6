package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wakeeper/wakeeper/internal/interfaces/cli/migrate"
	"github.com/wakeeper/wakeeper/internal/interfaces/cli/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wakeeper",
		Short: "Wakeeper - WhatsApp session durability engine",
		Long:  `Wakeeper keeps long-lived WhatsApp sessions alive across restarts: durable credential storage with integrity checks, automatic reconnection with bounded backoff, and corruption recovery.`,
	}

	rootCmd.AddCommand(
		server.NewCommand(),
		migrate.NewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
