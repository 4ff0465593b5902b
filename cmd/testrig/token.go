package main

import (
	"fmt"
	"os"

	"github.com/KevinKickass/OpenTestRig/internal/auth"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	tokenSubject string
	tokenRole    string
	tokenMachine string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access token, or generate a machine token with --machine",
	Long: "Without --machine, signs a JWT access token for --subject with --role using the configured secret.\n" +
		"With --machine, generates a long-lived machine token and prints the config entry holding its hash.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenMachine != "" {
			return printMachineToken(tokenMachine, tokenRole)
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		authService, err := auth.NewAuthService(cfg.Auth, zap.NewNop())
		if err != nil {
			return err
		}

		token, err := authService.IssueToken(tokenSubject, tokenRole)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, token)
		return nil
	},
}

func printMachineToken(name, role string) error {
	if _, err := auth.ParseRole(role); err != nil {
		return err
	}

	mt, err := auth.NewMachineTokenGenerator().Generate()
	if err != nil {
		return err
	}

	perms := auth.RoleToPermissions(role)
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}

	entry := map[string]interface{}{
		"auth": map[string]interface{}{
			"machine_tokens": []map[string]interface{}{
				{"name": name, "hash": mt.Digest, "permissions": names},
			},
		},
	}

	fmt.Fprintf(os.Stdout, "token: %s\nkey id: %s\n\n# add to the config file:\n", mt.Token, mt.KeyID)
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(entry)
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "Token subject")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "operator", "Role (operator, technician, admin)")
	tokenCmd.Flags().StringVar(&tokenMachine, "machine", "", "Generate a machine token with this name")
}
