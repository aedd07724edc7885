package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type printer func(cmd *cobra.Command, v any) error

func processCmd(open appOpener, out printer) *cobra.Command {
	return &cobra.Command{
		Use:   "process [file|-]",
		Short: "Extract the task graph of a transcript (stdin by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && isTerminal(cmd.InOrStdin()) {
				fmt.Fprintln(cmd.ErrOrStderr(), "reading transcript from stdin, end with Ctrl-D")
			}
			text, err := readTranscript(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			app, closeApp, err := open()
			if err != nil {
				return err
			}
			defer closeApp()

			result, err := app.Process(cmd.Context(), text)
			if err != nil {
				return err
			}
			return out(cmd, result)
		},
	}
}

func showCmd(open appOpener, out printer) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "show <hash>",
		Short: "Show a stored task graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, closeApp, err := open()
			if err != nil {
				return err
			}
			defer closeApp()

			if raw {
				record, err := app.Record(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), record.Content)
				return err
			}

			result, err := app.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return out(cmd, result)
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print the original transcript instead of the task graph")
	return cmd
}

func listCmd(open appOpener, out printer) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List processed transcripts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, closeApp, err := open()
			if err != nil {
				return err
			}
			defer closeApp()

			summaries, err := app.List(cmd.Context())
			if err != nil {
				return err
			}
			return out(cmd, summaries)
		},
	}
}

func deleteCmd(open appOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <hash>",
		Short: "Delete a transcript and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, closeApp, err := open()
			if err != nil {
				return err
			}
			defer closeApp()

			if err := app.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func readTranscript(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return string(data), nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
