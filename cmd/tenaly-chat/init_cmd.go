package main

import (
	"fmt"

	"github.com/google/uuid"
	tenalychat "github.com/karopeter/tenaly-chat-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <session-token>",
	Short: "Store session token in ~/.tenaly/config.toml",
	Long:  "Initialize the CLI by storing your Tenaly session token in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		userID, err := tenalychat.UserIDFromToken(token)
		if err != nil {
			return fmt.Errorf("token does not look like a Tenaly session token: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = token
		cfg.Auth.UserID = userID
		if cfg.Auth.DeviceID == "" {
			cfg.Auth.DeviceID = uuid.NewString()
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Session for %s saved to %s\n", userID, path)
		return nil
	},
}
