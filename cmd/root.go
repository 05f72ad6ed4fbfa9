package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ocrnote/internal/config"
	"ocrnote/internal/logger"
	"ocrnote/internal/settings"
)

var version = "1.0.0"

// appConfig is the environment configuration handed over by main.
var appConfig *config.Config

var rootCmd = &cobra.Command{
	Use:   "ocrnote",
	Short: "Convert images and PDFs into markdown notes with cloud OCR",
	Long: `ocrnote sends an image or PDF to an OCR service (Mistral OCR by default)
and stores the recognized markdown as a note inside a vault directory.
Images found in the document are saved as attachments next to the note
and the note's image references are rewritten to point at them.

Preferences are kept per vault in .ocrnote/settings.yaml and can be
changed with 'ocrnote settings set'.`,
	Version: version,
}

// Execute runs the root command with cfg. A nil cfg makes commands load
// the configuration themselves and report its error.
func Execute(cfg *config.Config) {
	log := logger.WithComponent("cmd")
	appConfig = cfg

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().String("vault", "", "Vault directory (default: $OCRNOTE_VAULT or the current directory)")
}

// loadConfig returns the configuration from main, loading it if main could not.
func loadConfig() (*config.Config, error) {
	if appConfig != nil {
		return appConfig, nil
	}
	return config.Load()
}

// vaultDir returns the --vault flag or the configured vault.
func vaultDir(cmd *cobra.Command, cfg *config.Config) string {
	if dir, _ := cmd.Flags().GetString("vault"); dir != "" {
		return dir
	}
	return cfg.VaultPath
}

// loadSettings reads the vault's settings. An empty persisted API key falls
// back to MISTRAL_API_KEY.
func loadSettings(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*settings.FileStore, settings.PluginSettings, error) {
	store := settings.NewFileStore(cfg.SettingsPath(vaultDir(cmd, cfg)))

	s, err := store.Load(ctx)
	if err != nil {
		return nil, s, err
	}
	if s.APIKey == "" {
		s.APIKey = cfg.MistralAPIKey
	}
	return store, s, nil
}
