package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
	"github.com/Smart-Samurai/Krapi-sub010/internal/service"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin users",
		Long:  "Create and list the administrative accounts that sign in to the Krapi API.",
	}

	cmd.AddCommand(newAdminCreateCmd())
	cmd.AddCommand(newAdminListCmd())

	return cmd
}

// ---------- admin create ----------

type adminCreateOptions struct {
	email       string
	username    string
	password    string
	role        string
	accessLevel string
	permissions []string
	as          string
}

func newAdminCreateCmd() *cobra.Command {
	var o adminCreateOptions

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new admin user",
		Long: `Create an admin account directly in the store. On an empty store the first
account is always created as master_admin.`,
		Example: `  krapi admin create --email ops@example.com --username ops --role admin
  krapi admin create --email dev@example.com --username dev --role developer --permissions projects:read`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminCreate(o)
		},
	}

	cmd.Flags().StringVar(&o.email, "email", "", "Admin email address (required)")
	cmd.Flags().StringVar(&o.username, "username", "", "Login name (required)")
	cmd.Flags().StringVar(&o.password, "password", "", "Admin password (prompted if omitted)")
	cmd.Flags().StringVar(&o.role, "role", string(model.RoleAdmin), "Role: master_admin, admin or developer")
	cmd.Flags().StringVar(&o.accessLevel, "access-level", "", "Access level (default derived from role)")
	cmd.Flags().StringSliceVar(&o.permissions, "permissions", nil, "Extra scopes granted to the account")
	cmd.Flags().StringVar(&o.as, "as", "", "Account to act as (default: first master_admin)")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("username")

	return cmd
}

func runAdminCreate(o adminCreateOptions) error {
	role, err := model.ParseRole(o.role)
	if err != nil {
		return err
	}
	perms, err := model.ParseScopeSet(o.permissions)
	if err != nil {
		return err
	}
	var level model.AccessLevel
	if o.accessLevel != "" {
		if level, err = model.ParseAccessLevel(o.accessLevel); err != nil {
			return err
		}
	}

	if o.password == "" {
		if o.password, err = promptPassword(); err != nil {
			return err
		}
	}

	return withApp(func(ctx context.Context, a *app) error {
		has, err := a.store.HasAnyAdmin(ctx)
		if err != nil {
			return err
		}
		if !has {
			if _, err := service.SeedDefaultAdmin(ctx, a.store, a.creds, service.SeedParams{
				Username: o.username,
				Email:    o.email,
				Password: o.password,
			}); err != nil {
				return err
			}
			fmt.Printf("Created master admin %q (first account)\n", o.username)
			return nil
		}

		actx, err := a.operator(ctx, o.as)
		if err != nil {
			return err
		}
		u, err := a.admins.Create(ctx, actx, service.CreateAdminParams{
			Email:       o.email,
			Username:    o.username,
			Password:    o.password,
			Role:        role,
			AccessLevel: level,
			Permissions: perms,
		})
		if err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		fmt.Printf("Created admin user %q\n", u.Username)
		fmt.Printf("  ID:    %s\n", u.ID)
		fmt.Printf("  Role:  %s (%s)\n", u.Role, u.AccessLevel)
		return nil
	})
}

// ---------- admin list ----------

func newAdminListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all admin users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAdminList(jsonOutput bool) error {
	return withApp(func(ctx context.Context, a *app) error {
		admins, err := a.store.ListAdmins(ctx)
		if err != nil {
			return fmt.Errorf("list admins: %w", err)
		}

		if jsonOutput {
			return printJSON(os.Stdout, admins)
		}

		if len(admins) == 0 {
			fmt.Println("No admin users. Use 'krapi admin create' to create one.")
			return nil
		}

		fmt.Printf("%-20s %-28s %-14s %-8s %s\n", "USERNAME", "EMAIL", "ROLE", "ACTIVE", "PERMISSIONS")
		fmt.Printf("%-20s %-28s %-14s %-8s %s\n", "--------", "-----", "----", "------", "-----------")
		for _, u := range admins {
			active := "yes"
			if !u.Active {
				active = "no"
			}
			fmt.Printf("%-20s %-28s %-14s %-8s %s\n", u.Username, u.Email, u.Role, active, strings.Join(u.Permissions.Strings(), ","))
		}
		return nil
	})
}
