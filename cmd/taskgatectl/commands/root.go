// Package commands implements taskgatectl, the offline companion of the
// taskgate server: parse and strip messages, check catalogs, mint dev
// tokens and verify exported audit trails.
package commands

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"taskgate/internal/automation/catalog"
)

var catalogPath string

var (
	okMark   = color.New(color.FgHiGreen).SprintFunc()
	failMark = color.New(color.FgRed).SprintFunc()
	dim      = color.New(color.FgHiBlack).SprintFunc()
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "taskgatectl",
		Short:         "Offline tools for the taskgate automation gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "intent catalog YAML (default: built-in)")

	cmd.AddCommand(
		NewParseCmd(),
		NewStripCmd(),
		NewCatalogCmd(),
		NewTokenCmd(),
		NewAuditCmd(),
	)
	return cmd
}

func loadCatalogs() (*catalog.Set, error) {
	return catalog.LoadFile(catalogPath)
}
