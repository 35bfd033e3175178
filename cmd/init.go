package cmd

import (
	"github.com/spf13/cobra"

	"github.com/raglet/raglet/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize raglet configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to configure the pipeline and writes a raglet.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard()
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
