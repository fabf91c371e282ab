package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chis/regview/internal/api"
	"github.com/chis/regview/internal/bootstrap"
	"github.com/chis/regview/internal/output"
)

func newImagesCmd(opts *globalOptions) *cobra.Command {
	var asJSON, sortByName bool

	cmd := &cobra.Command{
		Use:   "images <registry-id>",
		Short: "List repositories with their tags and manifest details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd.Context(), func(ctx context.Context, deps *bootstrap.ServiceDependencies) error {
				d, err := deps.Explorer.Registry(ctx, args[0])
				if err != nil {
					return reportError(cmd, asJSON, err)
				}

				ctx, cancel := context.WithTimeout(ctx, api.ScanTimeout)
				defer cancel()

				summaries, err := deps.Explorer.Images(ctx, d.ID, sortByName)
				if err != nil {
					return reportError(cmd, asJSON, err)
				}
				return writeResult(cmd, asJSON, summaries, func() error {
					return output.RenderImages(cmd.OutOrStdout(), d.Name, summaries)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	cmd.Flags().BoolVar(&sortByName, "sort", false, "sort by repository name instead of completion order")
	return cmd
}

func newProbeCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "probe <registry-id>",
		Aliases: []string{"test"},
		Short:   "Test the connection to a registry",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd.Context(), func(ctx context.Context, deps *bootstrap.ServiceDependencies) error {
				d, err := deps.Explorer.Registry(ctx, args[0])
				if err != nil {
					return reportError(cmd, asJSON, err)
				}

				ctx, cancel := context.WithTimeout(ctx, api.ProbeTimeout)
				defer cancel()

				report, err := deps.Explorer.Probe(ctx, d.ID)
				if err != nil {
					return reportError(cmd, asJSON, err)
				}
				if err := writeResult(cmd, asJSON, report, func() error {
					return output.RenderReport(cmd.OutOrStdout(), d, report)
				}); err != nil {
					return err
				}
				if !report.Success {
					return errReported
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func newDeleteTagCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "delete-tag <registry-id> <repository> <tag>",
		Short: "Delete a tag by resolving and deleting its manifest digest",
		Long: `Delete a tag by resolving and deleting its manifest digest.

Every tag pointing at the same manifest disappears with it. The registry must
run with deletion enabled.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd.Context(), func(ctx context.Context, deps *bootstrap.ServiceDependencies) error {
				ctx, cancel := context.WithTimeout(ctx, api.DeleteTimeout)
				defer cancel()

				dgst, err := deps.Explorer.DeleteTag(ctx, args[0], args[1], args[2])
				if err != nil {
					return reportError(cmd, asJSON, err)
				}
				data := map[string]string{
					"repository": args[1],
					"tag":        args[2],
					"digest":     dgst.String(),
				}
				return writeResult(cmd, asJSON, data, func() error {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s:%s (%s)\n",
						output.SuccessStyle.Render("✓"), args[1], args[2], dgst)
					return err
				})
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	var limit int

	cmd := &cobra.Command{
		Use:   "history <registry-id>",
		Short: "Show recorded scans of a registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd.Context(), func(ctx context.Context, deps *bootstrap.ServiceDependencies) error {
				records, err := deps.Explorer.ScanHistory(ctx, args[0], limit)
				if err != nil {
					return reportError(cmd, asJSON, err)
				}
				return writeResult(cmd, asJSON, records, func() error {
					return output.RenderHistory(cmd.OutOrStdout(), records)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	cmd.Flags().IntVar(&limit, "limit", api.DefaultHistoryLimit, "maximum scans to show")
	return cmd
}
