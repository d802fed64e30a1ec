package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func NewCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the intent catalog",
	}
	cmd.AddCommand(newCatalogValidateCmd(), newCatalogListCmd())
	return cmd
}

func newCatalogValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the catalog and report whether the server would accept it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, err := loadCatalogs()
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", failMark("✗"), err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s catalog ok: %d intents, %d domain actions, %d event types\n",
				okMark("✓"), len(set.Intents.Keys()), len(set.Actions.Keys()), len(set.Events.Types()))
			return nil
		},
	}
}

func newCatalogListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List intents with their automation level and gate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, err := loadCatalogs()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INTENT\tLEVEL\tCLASS\tGATE")
			for _, key := range set.Intents.Keys() {
				def, _ := set.Intents.Get(key)
				gate := "-"
				switch {
				case def.ActionKey != "" && set.Actions.IsAllowed(def.ActionKey):
					gate = def.ActionKey
				case def.ActionKey != "":
					gate = failMark(def.ActionKey + " (not allow-listed)")
				case def.EventType != "":
					gate = def.EventType
				}
				class := string(def.Class)
				if class == "" {
					class = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", key, def.Level, class, gate)
			}
			return w.Flush()
		},
	}
}
