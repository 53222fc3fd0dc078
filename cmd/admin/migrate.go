package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/webchat/internal/bootstrap"
	"github.com/suPer8Hu/webchat/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if _, err := bootstrap.OpenDB(cfg); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
