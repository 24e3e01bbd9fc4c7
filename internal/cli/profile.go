package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/object0/foldersync/internal/keychain"
	"github.com/object0/foldersync/internal/logging"
	"github.com/object0/foldersync/internal/store"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage remote profiles",
	Long: `A profile identifies a remote endpoint. Its access credentials are stored
in the operating system keychain; the database only holds the endpoint
metadata.`,
}

var profileAddFlags struct {
	name      string
	provider  string
	endpoint  string
	region    string
	accessKey string
	secretKey string
}

var profileAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a remote profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := openApp()
		if err != nil {
			return err
		}
		defer application.close()

		profile := store.Profile{
			ID:        uuid.NewString(),
			Name:      profileAddFlags.name,
			Provider:  profileAddFlags.provider,
			Endpoint:  profileAddFlags.endpoint,
			Region:    profileAddFlags.region,
			CreatedAt: time.Now(),
		}
		if err := application.engine.UpsertProfile(cmd.Context(), profile); err != nil {
			return err
		}

		if profileAddFlags.accessKey != "" {
			creds := keychain.Credentials{
				AccessKeyID:     profileAddFlags.accessKey,
				SecretAccessKey: profileAddFlags.secretKey,
			}
			if err := keychain.New().Save(profile.ID, creds); err != nil {
				return fmt.Errorf("profile saved but credentials were not stored: %w", err)
			}
		}

		fmt.Printf("Added profile %s (%s)\n", profile.Name, shortID(profile.ID))
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remote profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := openApp()
		if err != nil {
			return err
		}
		defer application.close()

		profiles, err := application.db.ListProfiles(cmd.Context())
		if err != nil {
			return err
		}
		if len(profiles) == 0 {
			fmt.Println("No profiles configured")
			return nil
		}

		rows := make([][]string, 0, len(profiles))
		for _, profile := range profiles {
			rows = append(rows, []string{
				shortID(profile.ID),
				profile.Name,
				profile.Provider,
				profile.Endpoint,
				profile.Region,
			})
		}
		renderTable([]string{"ID", "Name", "Provider", "Endpoint", "Region"}, rows)
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <profile-id>",
	Short: "Remove a remote profile and its stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := openApp()
		if err != nil {
			return err
		}
		defer application.close()

		if err := application.engine.RemoveProfile(cmd.Context(), args[0]); err != nil {
			return err
		}
		if err := keychain.New().Delete(args[0]); err != nil {
			logger.Warn("stored credentials were not removed", logging.Err(err))
		}
		fmt.Printf("Removed profile %s\n", shortID(args[0]))
		return nil
	},
}

func init() {
	profileAddCmd.Flags().StringVar(&profileAddFlags.name, "name", "", "Profile name")
	profileAddCmd.Flags().StringVar(&profileAddFlags.provider, "provider", "memory", "Remote provider")
	profileAddCmd.Flags().StringVar(&profileAddFlags.endpoint, "endpoint", "", "Endpoint URL")
	profileAddCmd.Flags().StringVar(&profileAddFlags.region, "region", "", "Region")
	profileAddCmd.Flags().StringVar(&profileAddFlags.accessKey, "access-key-id", "", "Access key ID to store in the keychain")
	profileAddCmd.Flags().StringVar(&profileAddFlags.secretKey, "secret-access-key", "", "Secret access key to store in the keychain")
	_ = profileAddCmd.MarkFlagRequired("name")

	profileCmd.AddCommand(profileAddCmd, profileListCmd, profileRemoveCmd)
}
