package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/object0/foldersync/internal/sync/diff"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run and inspect reconciliations",
}

var syncNowCmd = &cobra.Command{
	Use:   "now <rule-id>",
	Short: "Reconcile a rule immediately",
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
		if err := application.engine.SyncNow(cmd.Context(), rule.ID); err != nil {
			return err
		}

		updated, err := application.db.GetRule(cmd.Context(), rule.ID)
		if err != nil {
			return err
		}
		fmt.Printf("Sync finished: %s", updated.LastSyncStatus)
		if updated.LastSyncError != "" {
			fmt.Printf(" (%s)", updated.LastSyncError)
		}
		fmt.Println()
		return nil
	},
}

var syncPreviewCmd = &cobra.Command{
	Use:   "preview <rule-id>",
	Short: "Show what a reconciliation would do, without doing it",
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
		plan, err := application.engine.Preview(cmd.Context(), rule.ID)
		if err != nil {
			return err
		}

		if plan.Empty() {
			fmt.Printf("Nothing to do (%d unchanged)\n", plan.Unchanged)
			return nil
		}

		var rows [][]string
		appendBucket := func(entries []diff.Entry) {
			for _, entry := range entries {
				rows = append(rows, []string{string(entry.Action), entry.Path, entry.Reason})
			}
		}
		appendBucket(plan.Uploads)
		appendBucket(plan.Downloads)
		appendBucket(plan.DeleteLocal)
		appendBucket(plan.DeleteRemote)
		appendBucket(plan.Conflicts)
		for _, path := range plan.StaleBaseline {
			rows = append(rows, []string{"prune", path, "Both sides deleted"})
		}

		renderTable([]string{"Action", "Path", "Reason"}, rows)
		fmt.Printf("%d operations, %d unchanged\n", plan.Total(), plan.Unchanged)
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recorded sync state of every rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := openApp()
		if err != nil {
			return err
		}
		defer application.close()

		rules, err := application.db.ListRules(cmd.Context())
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			fmt.Println("No sync rules configured")
			return nil
		}

		rows := make([][]string, 0, len(rules))
		for _, rule := range rules {
			conflicts, err := application.db.ListConflicts(cmd.Context(), rule.ID)
			if err != nil {
				return err
			}
			lastSync := "-"
			if !rule.LastSyncAt.IsZero() {
				lastSync = rule.LastSyncAt.Local().Format("2006-01-02 15:04:05")
			}
			status := string(rule.LastSyncStatus)
			if status == "" {
				status = "never synced"
			}
			rows = append(rows, []string{
				shortID(rule.ID),
				rule.LocalPath,
				status,
				lastSync,
				strconv.Itoa(len(conflicts)),
			})
		}
		renderTable([]string{"ID", "Local", "Last status", "Last sync", "Conflicts"}, rows)
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncNowCmd, syncPreviewCmd, syncStatusCmd)
}
