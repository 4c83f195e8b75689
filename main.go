package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "magiclink",
		Short:         "Passwordless login links delivered as encrypted Nostr direct messages",
		SilenceUsage:  true,
	}
	root.AddCommand(
		serveCmd(),
		relayCmd(),
		keygenCmd(),
		sendCmd(),
		inspectCmd(),
		decryptCmd(),
	)
	return root
}
