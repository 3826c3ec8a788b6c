package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-aqara/internal/bridges/aqara"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aqara-bridge",
		Short: "Aqara gateway bridge for Gray Logic",
		Long: `aqara-bridge discovers Aqara gateways on the LAN, decodes their device
reports into accessories and relays state and commands over MQTT.

Examples:
  # Run the bridge
  aqara-bridge run --config /etc/graylogic/aqara.yaml

  # Compute the write key for a gateway password and token
  aqara-bridge derive-key --password 0987654321qwerty --token Abcdefghijklmnop`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newDeriveKeyCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("config") {
				configPath = getConfigPath()
			}
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"process config file (GRAYLOGIC_CONFIG when unset)")
	return cmd
}

func newDeriveKeyCmd() *cobra.Command {
	var password, token string

	cmd := &cobra.Command{
		Use:   "derive-key",
		Short: "Print the write key derived from a gateway password and token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := aqara.DeriveKey(password, token)
			if err != nil {
				return fmt.Errorf("deriving key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "gateway developer password (16 characters)")
	cmd.Flags().StringVar(&token, "token", "", "token from the gateway's latest heartbeat")
	_ = cmd.MarkFlagRequired("password")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "aqara-bridge %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
