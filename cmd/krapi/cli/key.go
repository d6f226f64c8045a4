package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
	"github.com/Smart-Samurai/Krapi-sub010/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke registry API keys that can be exchanged for sessions.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

type keyCreateOptions struct {
	name      string
	keyType   string
	scopes    []string
	projects  []string
	expiresIn time.Duration
	owner     string
	as        string
}

func newKeyCreateCmd() *cobra.Command {
	var o keyCreateOptions

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new registry API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  krapi key create --name "CI pipeline" --type admin
  krapi key create --name "storefront" --type project --projects p1,p2 --expires-in 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(o)
		},
	}

	cmd.Flags().StringVar(&o.name, "name", "", "Human-readable name for the key (required)")
	cmd.Flags().StringVar(&o.keyType, "type", string(model.KeyTypeAdmin), "Key type: master, admin or project")
	cmd.Flags().StringSliceVar(&o.scopes, "scopes", nil, "Scopes to grant (default derived from type)")
	cmd.Flags().StringSliceVar(&o.projects, "projects", nil, "Restrict the key to these project ids")
	cmd.Flags().DurationVar(&o.expiresIn, "expires-in", 0, "Expire the key after this long (default never)")
	cmd.Flags().StringVar(&o.owner, "owner", "", "Owner account id (default: the acting account)")
	cmd.Flags().StringVar(&o.as, "as", "", "Account to act as (default: first master_admin)")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(o keyCreateOptions) error {
	kt, err := model.ParseKeyType(o.keyType)
	if err != nil {
		return err
	}
	var scopes model.ScopeSet
	if len(o.scopes) > 0 {
		if scopes, err = model.ParseScopeSet(o.scopes); err != nil {
			return err
		}
	}

	return withApp(func(ctx context.Context, a *app) error {
		actx, err := a.operator(ctx, o.as)
		if err != nil {
			return err
		}
		p := service.CreateKeyParams{
			OwnerID:    o.owner,
			Name:       o.name,
			Type:       kt,
			Scopes:     scopes,
			ProjectIDs: o.projects,
		}
		if o.expiresIn > 0 {
			exp := time.Now().UTC().Add(o.expiresIn)
			p.ExpiresAt = &exp
		}

		k, raw, err := a.auth.CreateAPIKey(ctx, actx, p)
		if err != nil {
			return fmt.Errorf("create api key: %w", err)
		}

		fmt.Println("API Key created:")
		fmt.Println()
		fmt.Printf("  Key:    %s\n", raw)
		fmt.Printf("  ID:     %s\n", k.ID)
		fmt.Printf("  Type:   %s\n", k.Type)
		fmt.Printf("  Scopes: %s\n", strings.Join(k.Scopes.Strings(), ","))
		if k.ExpiresAt != nil {
			fmt.Printf("  Expires: %s\n", k.ExpiresAt.Format(time.RFC3339))
		}
		fmt.Println()
		fmt.Println("  Save this key now - it cannot be retrieved again.")
		return nil
	})
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		jsonOutput bool
		owner      string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(owner, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&owner, "owner", "", "Only list keys owned by this account id")

	return cmd
}

func runKeyList(owner string, jsonOutput bool) error {
	return withApp(func(ctx context.Context, a *app) error {
		keys, err := a.keys.List(ctx, owner)
		if err != nil {
			return fmt.Errorf("list api keys: %w", err)
		}

		if jsonOutput {
			return printJSON(os.Stdout, keys)
		}

		if len(keys) == 0 {
			fmt.Println("No API keys. Use 'krapi key create' to create one.")
			return nil
		}

		fmt.Printf("%-38s %-14s %-24s %-8s %-8s %s\n", "ID", "PREFIX", "NAME", "TYPE", "ACTIVE", "USES")
		fmt.Printf("%-38s %-14s %-24s %-8s %-8s %s\n", "--", "------", "----", "----", "------", "----")
		for _, k := range keys {
			active := "yes"
			if !k.IsActive {
				active = "no"
			}
			fmt.Printf("%-38s %-14s %-24s %-8s %-8s %d\n", k.ID, k.KeyPrefix, k.Name, k.Type, active, k.UseCount)
		}
		return nil
	})
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var as string

	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Long:  "Deactivate an API key. Sessions already issued for it stay valid until they expire.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				actx, err := a.operator(ctx, as)
				if err != nil {
					return err
				}
				if err := a.auth.RevokeAPIKey(ctx, actx, args[0]); err != nil {
					return fmt.Errorf("revoke api key: %w", err)
				}
				fmt.Printf("Revoked API key %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&as, "as", "", "Account to act as (default: first master_admin)")

	return cmd
}
