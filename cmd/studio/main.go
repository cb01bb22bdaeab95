package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath   string
	roleFlag     string
	nameFlag     string
	loopbackDemo bool
)

var rootCmd = &cobra.Command{
	Use:   "studio",
	Short: "runs a studiolink node",
	Long: `studio discovers other studio nodes on the local network, connects to them
and exchanges camera frames and recording commands.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if nameFlag != "" {
			cfg.Node.DisplayName = nameFlag
		}
		if roleFlag != "" {
			cfg.Node.Role = roleFlag
			cfg.ApplyRole()
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return run(cmd.Context(), cfg, loopbackDemo)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: $STUDIO_CONFIG or configs/config.yaml)")
	rootCmd.Flags().StringVar(&roleFlag, "role", "", "node role: monitor, camera or both")
	rootCmd.Flags().StringVar(&nameFlag, "name", "", "display name advertised to other nodes")
	rootCmd.Flags().BoolVar(&loopbackDemo, "loopback-demo", false, "run against an in-process hub with a synthetic camera instead of the network")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
