package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"taskgate/internal/automation/audit"
	"taskgate/internal/automation/models"
)

func NewAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Work with exported audit trails",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "verify [file]",
		Short: "Check the hash chain of one tenant's records (JSON array, oldest first)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runAuditVerify,
	})
	return cmd
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	raw, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	var records []models.AuditRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return fmt.Errorf("decode audit records: %w", err)
	}
	if err := audit.Verify(records); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", failMark("✗"), err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d records, chain intact\n", okMark("✓"), len(records))
	return nil
}
