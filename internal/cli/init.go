package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parley-chat/parley/internal/config"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a config file with a fresh JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			if output == "" {
				output = "parley.json"
			}
			force, _ := cmd.Flags().GetBool("force")
			return writeDefaultConfig(cmd, output, force)
		},
	}
	cmd.Flags().StringP("output", "o", "", "output config file path (default: ./parley.json)")
	cmd.Flags().Bool("force", false, "overwrite an existing config file")
	return cmd
}

func writeDefaultConfig(cmd *cobra.Command, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	secret, err := config.GenerateRandomSecret()
	if err != nil {
		return err
	}

	cfg := map[string]any{
		"server": map[string]any{
			"addr":            ":8080",
			"allowed_origins": []string{"*"},
		},
		"auth": map[string]any{
			"jwt_secret":   secret,
			"jwt_expiry":   "24h",
			"allow_guests": true,
		},
		"storage": map[string]any{
			"driver": "sqlite",
			"dsn":    "parley.db",
		},
		"logging": map[string]any{
			"level":  "info",
			"format": "json",
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
