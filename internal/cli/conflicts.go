package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect unresolved conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list [rule-id]",
	Short: "List unresolved conflicts, all rules when no ID is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := openApp()
		if err != nil {
			return err
		}
		defer application.close()

		ruleID := ""
		if len(args) == 1 {
			rule, err := resolveRule(cmd, application, args[0])
			if err != nil {
				return err
			}
			ruleID = rule.ID
		}

		conflicts, err := application.engine.Conflicts(cmd.Context(), ruleID)
		if err != nil {
			return err
		}
		if len(conflicts) == 0 {
			fmt.Println("No unresolved conflicts")
			return nil
		}

		rows := make([][]string, 0, len(conflicts))
		for _, record := range conflicts {
			rows = append(rows, []string{
				shortID(record.RuleID),
				record.RelativePath,
				record.Reason,
				record.DetectedAt.Local().Format(time.RFC3339),
			})
		}
		renderTable([]string{"Rule", "Path", "Reason", "Detected"}, rows)
		return nil
	},
}

var conflictsClearCmd = &cobra.Command{
	Use:   "clear <rule-id>",
	Short: "Drop a rule's conflict records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := openApp()
		if err != nil {
			return err
		}
		defer application.close()

		rule, err := resolveRule(cmd, application, args[0])
		if err != nil {
			return err
		}
		if err := application.engine.ClearConflicts(cmd.Context(), rule.ID); err != nil {
			return err
		}
		fmt.Printf("Cleared conflicts for rule %s\n", shortID(rule.ID))
		return nil
	},
}

func init() {
	conflictsCmd.AddCommand(conflictsListCmd, conflictsClearCmd)
}
