package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chis/regview/internal/bootstrap"
	"github.com/chis/regview/internal/output"
	"github.com/chis/regview/internal/registry"
)

func newRegistriesCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "registries",
		Aliases: []string{"registry", "reg"},
		Short:   "Manage registry connection profiles",
	}
	cmd.AddCommand(
		newRegistriesListCmd(opts),
		newRegistriesAddCmd(opts),
		newRegistriesRemoveCmd(opts),
	)
	return cmd
}

func newRegistriesListCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored registries",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd.Context(), func(ctx context.Context, deps *bootstrap.ServiceDependencies) error {
				list, err := deps.Explorer.Registries(ctx)
				if err != nil {
					return reportError(cmd, asJSON, err)
				}
				return writeResult(cmd, asJSON, list, func() error {
					return output.RenderRegistries(cmd.OutOrStdout(), list)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func newRegistriesAddCmd(opts *globalOptions) *cobra.Command {
	var d registry.Descriptor
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a registry",
		Example: `  regview registries add --name local --host localhost --port 5000
  regview registries add --name prod --host registry.example.com --port 443 --ssl --username ci --password secret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd.Context(), func(ctx context.Context, deps *bootstrap.ServiceDependencies) error {
				added, err := deps.Explorer.AddRegistry(ctx, d)
				if err != nil {
					return reportError(cmd, asJSON, err)
				}
				return writeResult(cmd, asJSON, added, func() error {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s Added registry %s (%s) as %s\n",
						output.SuccessStyle.Render("✓"), added.Name, added.Address(), added.ID)
					return err
				})
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&d.Name, "name", "", "display name")
	f.StringVar(&d.Host, "host", "", "registry hostname")
	f.IntVar(&d.Port, "port", registry.DefaultPort, "registry port")
	f.BoolVar(&d.UseSSL, "ssl", false, "use HTTPS")
	f.StringVar(&d.Username, "username", "", "Basic auth username")
	f.StringVar(&d.Password, "password", "", "Basic auth password")
	f.BoolVar(&asJSON, "json", false, "output JSON")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

func newRegistriesRemoveCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a registry",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd.Context(), func(ctx context.Context, deps *bootstrap.ServiceDependencies) error {
				if err := deps.Explorer.RemoveRegistry(ctx, args[0]); err != nil {
					return reportError(cmd, asJSON, err)
				}
				return writeResult(cmd, asJSON, map[string]string{"removed": args[0]}, func() error {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s Removed registry %s\n",
						output.SuccessStyle.Render("✓"), args[0])
					return err
				})
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}
