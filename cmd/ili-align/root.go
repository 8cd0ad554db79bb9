// Command ili-align reconciles in-line inspection surveys of one pipeline:
// it aligns odometer distances, matches anomalies, estimates growth, and
// optionally clusters interacting defects.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/ili.report/internal/version"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ili-align",
		Short: "Reconcile in-line inspection surveys",
		Long: "ili-align aligns two or more ILI surveys of the same pipeline on shared\n" +
			"landmarks, matches anomalies across them, and estimates corrosion growth.",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newRunsCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
