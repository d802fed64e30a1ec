package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"taskgate/internal/automation/parser"
)

// NewParseCmd creates the parse command
func NewParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse [file]",
		Short: "Extract the intent from a message (stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runParse,
	}
}

// NewStripCmd creates the strip command
func NewStripCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strip [file]",
		Short: "Print a message with its intent blocks removed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), parser.StripIntentBlocks(text))
			return nil
		},
	}
}

func runParse(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	set, err := loadCatalogs()
	if err != nil {
		return err
	}

	intent, err := parser.New(set.Intents).Parse(text)
	if err != nil {
		var perr *parser.ParseError
		if errors.As(err, &perr) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", failMark("✗"), perr.Kind)
			for _, d := range perr.Details {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", dim(d))
			}
		}
		return fmt.Errorf("parse failed: %w", err)
	}

	out, err := json.MarshalIndent(intent, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n%s\n", okMark("✓"), intent.Key, out)
	return nil
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	var (
		raw []byte
		err error
	)
	if len(args) == 0 || args[0] == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(string(raw), "\n"), nil
}
