package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/webchat/internal/auth"
	"github.com/suPer8Hu/webchat/internal/bootstrap"
	"github.com/suPer8Hu/webchat/internal/config"
	"github.com/suPer8Hu/webchat/internal/logger"
	"github.com/suPer8Hu/webchat/internal/models"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var (
	createUsername string
	createPassword string
	createRole     string
	createJobTitle string
	createCompany  string
)

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user account",
	Long: `Create a user account. Usage:

	webchat-admin user create --username alice --password 's3cret-pass' --role super
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := authService()
		if err != nil {
			return err
		}
		u, err := svc.CreateUser(cmd.Context(), auth.NewUser{
			Username: createUsername,
			Password: createPassword,
			Role:     models.Role(createRole),
			JobTitle: createJobTitle,
			Company:  createCompany,
		})
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id=%d, role=%s)\n", u.Username, u.ID, u.Role)
		return nil
	},
}

var setRoleCmd = &cobra.Command{
	Use:   "set-role <username> <super|employer>",
	Short: "Change a user's role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := authService()
		if err != nil {
			return err
		}
		if err := svc.SetRole(cmd.Context(), args[0], models.Role(args[1])); err != nil {
			return fmt.Errorf("set role: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], args[1])
		return nil
	},
}

func authService() (*auth.Service, error) {
	cfg := config.Load()
	gdb, err := bootstrap.OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	return auth.NewService(gdb, cfg.JWTSecret, cfg.SessionTTL, logger.Nop()), nil
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd, setRoleCmd)

	userCreateCmd.Flags().StringVar(&createUsername, "username", "", "login name (3-64 chars)")
	userCreateCmd.Flags().StringVar(&createPassword, "password", "", "password (at least 8 chars)")
	userCreateCmd.Flags().StringVar(&createRole, "role", string(models.RoleEmployer), "super or employer")
	userCreateCmd.Flags().StringVar(&createJobTitle, "job-title", "", "optional job title")
	userCreateCmd.Flags().StringVar(&createCompany, "company", "", "optional company")
	_ = userCreateCmd.MarkFlagRequired("username")
	_ = userCreateCmd.MarkFlagRequired("password")
}
