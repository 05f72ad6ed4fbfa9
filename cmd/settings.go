package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ocrnote/internal/logger"
	"ocrnote/internal/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the vault's converter settings",
	Long: `Manage the preferences stored in the vault's settings file.

The API key is never printed in full. Every change is saved immediately.`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings as YAML",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Change one setting",
	Long: `Change one setting and save the settings file.

Keys: ` + strings.Join(settings.Keys(), ", "),
	Example: `  # Store the Mistral API key for this vault
  ocrnote settings set api-key sk-...

  # Number duplicate attachments as "1_image.png"
  ocrnote settings set dup-number-delimiter _
  ocrnote settings set dup-number-at-start true`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

var settingsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the location of the settings file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cfg.SettingsPath(vaultDir(cmd, cfg)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsPathCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	_, s, err := loadSettings(cmd.Context(), cmd, cfg)
	if err != nil {
		return err
	}
	s.APIKey = s.MaskedAPIKey()

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	defer enc.Close()
	return enc.Encode(s)
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("settings")
	key, value := args[0], args[1]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	store := settings.NewFileStore(cfg.SettingsPath(vaultDir(cmd, cfg)))
	s, err := store.Load(ctx)
	if err != nil {
		return err
	}

	if err := s.Set(key, value); err != nil {
		return err
	}
	if err := store.Save(ctx, s); err != nil {
		return err
	}

	log.Info().
		Str("key", key).
		Str("path", store.Path()).
		Msg("Setting saved")

	if key == "api-key" {
		value = s.MaskedAPIKey()
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, value)
	return nil
}
