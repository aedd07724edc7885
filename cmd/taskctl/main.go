package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	if err := newRootCmd(openApp).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(open appOpener) *cobra.Command {
	var format string

	rootCmd := &cobra.Command{
		Use:           "taskctl",
		Short:         "Turn meeting transcripts into task graphs",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if format != formatJSON && format != formatYAML {
				return fmt.Errorf("unknown format %q, want json or yaml", format)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&format, "format", "f", formatJSON, "Output format (json, yaml)")

	out := func(cmd *cobra.Command, v any) error {
		return render(cmd.OutOrStdout(), format, v)
	}

	rootCmd.AddCommand(processCmd(open, out))
	rootCmd.AddCommand(showCmd(open, out))
	rootCmd.AddCommand(listCmd(open, out))
	rootCmd.AddCommand(deleteCmd(open))

	return rootCmd
}
