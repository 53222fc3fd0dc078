package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/webchat/internal/bootstrap"
	"github.com/suPer8Hu/webchat/internal/config"
	"github.com/suPer8Hu/webchat/internal/logger"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Maintain stored files",
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Index objects in blob storage that have no metadata row",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		gdb, err := bootstrap.OpenDB(cfg)
		if err != nil {
			return err
		}
		store, err := bootstrap.NewFileStore(cmd.Context(), cfg, gdb, logger.Nop())
		if err != nil {
			return err
		}
		n, err := store.Reindex(cmd.Context())
		if err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d file(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(filesCmd)
	filesCmd.AddCommand(reindexCmd)
}
