package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

type rootFlags struct {
	configPath string
	verbose    bool
	mock       bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "tryon",
		Short: "Virtual try-on: describe a model, synthesize it, dress it in a garment",
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		SilenceUsage: true,
		Version:      version,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config.yaml (defaults apply when empty)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logs")
	root.PersistentFlags().BoolVar(&flags.mock, "mock", false, "use the offline mock backend")

	root.AddCommand(
		newServeCmd(flags),
		newGenerateCmd(flags),
		newModelCmd(flags),
		newCheckCmd(flags),
		newMCPCmd(flags),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
