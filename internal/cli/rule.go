package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/object0/foldersync/internal/store"
)

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Manage sync rules",
}

var ruleAddFlags struct {
	local     string
	bucket    string
	prefix    string
	profile   string
	direction string
	policy    string
	interval  time.Duration
	exclude   []string
	disabled  bool
}

var ruleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a sync rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := openApp()
		if err != nil {
			return err
		}
		defer application.close()

		local, err := filepath.Abs(ruleAddFlags.local)
		if err != nil {
			return err
		}

		rule, err := application.engine.AddRule(cmd.Context(), store.Rule{
			ProfileID:       ruleAddFlags.profile,
			Bucket:          ruleAddFlags.bucket,
			Prefix:          ruleAddFlags.prefix,
			LocalPath:       local,
			Direction:       store.Direction(ruleAddFlags.direction),
			ConflictPolicy:  ruleAddFlags.policy,
			PollInterval:    ruleAddFlags.interval,
			ExcludePatterns: ruleAddFlags.exclude,
			Enabled:         !ruleAddFlags.disabled,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Added rule %s (%s <-> %s/%s)\n", rule.ID, rule.LocalPath, rule.Bucket, rule.Prefix)
		return nil
	},
}

var ruleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sync rules",
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
			enabled := "no"
			if rule.Enabled {
				enabled = "yes"
			}
			lastSync := "-"
			if !rule.LastSyncAt.IsZero() {
				lastSync = rule.LastSyncAt.Local().Format("2006-01-02 15:04:05")
			}
			status := string(rule.LastSyncStatus)
			if status == "" {
				status = "-"
			}
			rows = append(rows, []string{
				shortID(rule.ID),
				rule.LocalPath,
				rule.Bucket + "/" + rule.Prefix,
				string(rule.Direction),
				rule.ConflictPolicy,
				enabled,
				status,
				lastSync,
			})
		}
		renderTable([]string{"ID", "Local", "Remote", "Direction", "Policy", "Enabled", "Last status", "Last sync"}, rows)
		return nil
	},
}

var ruleUpdateFlags struct {
	direction string
	policy    string
	interval  time.Duration
	exclude   []string
}

var ruleUpdateCmd = &cobra.Command{
	Use:   "update <rule-id>",
	Short: "Update a sync rule's settings",
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

		if cmd.Flags().Changed("direction") {
			rule.Direction = store.Direction(ruleUpdateFlags.direction)
		}
		if cmd.Flags().Changed("policy") {
			rule.ConflictPolicy = ruleUpdateFlags.policy
		}
		if cmd.Flags().Changed("interval") {
			rule.PollInterval = ruleUpdateFlags.interval
		}
		if cmd.Flags().Changed("exclude") {
			rule.ExcludePatterns = ruleUpdateFlags.exclude
		}

		if err := application.engine.UpdateRule(cmd.Context(), *rule); err != nil {
			return err
		}
		fmt.Printf("Updated rule %s\n", shortID(rule.ID))
		return nil
	},
}

var ruleRemoveCmd = &cobra.Command{
	Use:   "remove <rule-id>",
	Short: "Remove a sync rule and its baseline",
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
		if err := application.engine.RemoveRule(cmd.Context(), rule.ID); err != nil {
			return err
		}
		fmt.Printf("Removed rule %s\n", shortID(rule.ID))
		return nil
	},
}

var ruleEnableCmd = &cobra.Command{
	Use:   "enable <rule-id>",
	Short: "Enable a sync rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleEnabled(cmd, args[0], true)
	},
}

var ruleDisableCmd = &cobra.Command{
	Use:   "disable <rule-id>",
	Short: "Disable a sync rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleEnabled(cmd, args[0], false)
	},
}

func setRuleEnabled(cmd *cobra.Command, id string, enabled bool) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.close()

	rule, err := resolveRule(cmd, application, id)
	if err != nil {
		return err
	}
	if enabled {
		err = application.engine.EnableRule(cmd.Context(), rule.ID)
	} else {
		err = application.engine.DisableRule(cmd.Context(), rule.ID)
	}
	if err != nil {
		return err
	}

	verb := "Enabled"
	if !enabled {
		verb = "Disabled"
	}
	fmt.Printf("%s rule %s\n", verb, shortID(rule.ID))
	return nil
}

// resolveRule accepts a full rule ID or an unambiguous prefix
func resolveRule(cmd *cobra.Command, application *app, id string) (*store.Rule, error) {
	rule, err := application.db.GetRule(cmd.Context(), id)
	if err == nil {
		return rule, nil
	}

	rules, listErr := application.db.ListRules(cmd.Context())
	if listErr != nil {
		return nil, listErr
	}
	var matches []store.Rule
	for _, candidate := range rules {
		if strings.HasPrefix(candidate.ID, id) {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 1:
		return &matches[0], nil
	case 0:
		return nil, err
	default:
		return nil, fmt.Errorf("rule ID prefix %q is ambiguous (%d matches)", id, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	ruleAddCmd.Flags().StringVar(&ruleAddFlags.local, "local", "", "Local directory to sync")
	ruleAddCmd.Flags().StringVar(&ruleAddFlags.bucket, "bucket", "", "Remote bucket")
	ruleAddCmd.Flags().StringVar(&ruleAddFlags.prefix, "prefix", "", "Key prefix inside the bucket")
	ruleAddCmd.Flags().StringVar(&ruleAddFlags.profile, "profile", "", "Remote profile ID")
	ruleAddCmd.Flags().StringVar(&ruleAddFlags.direction, "direction", string(store.DirectionBidirectional), "Sync direction (bidirectional, local-to-remote, remote-to-local)")
	ruleAddCmd.Flags().StringVar(&ruleAddFlags.policy, "policy", "newer-wins", "Conflict policy (newer-wins, local-wins, remote-wins, keep-both)")
	ruleAddCmd.Flags().DurationVar(&ruleAddFlags.interval, "interval", 5*time.Minute, "Poll interval")
	ruleAddCmd.Flags().StringSliceVar(&ruleAddFlags.exclude, "exclude", nil, "Exclude patterns (repeatable)")
	ruleAddCmd.Flags().BoolVar(&ruleAddFlags.disabled, "disabled", false, "Create the rule disabled")
	_ = ruleAddCmd.MarkFlagRequired("local")
	_ = ruleAddCmd.MarkFlagRequired("bucket")

	ruleUpdateCmd.Flags().StringVar(&ruleUpdateFlags.direction, "direction", "", "Sync direction")
	ruleUpdateCmd.Flags().StringVar(&ruleUpdateFlags.policy, "policy", "", "Conflict policy")
	ruleUpdateCmd.Flags().DurationVar(&ruleUpdateFlags.interval, "interval", 0, "Poll interval")
	ruleUpdateCmd.Flags().StringSliceVar(&ruleUpdateFlags.exclude, "exclude", nil, "Exclude patterns")

	ruleCmd.AddCommand(ruleAddCmd, ruleListCmd, ruleUpdateCmd, ruleRemoveCmd, ruleEnableCmd, ruleDisableCmd)
}
