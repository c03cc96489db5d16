package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/automind/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize automind configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to connect automind to Home Assistant and writes a .automind.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard(cfgFile)
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
