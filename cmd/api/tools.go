package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/babeldoc-web/api-go/internal/auth"
	"github.com/example/babeldoc-web/api-go/internal/blob"
	"github.com/example/babeldoc-web/api-go/internal/history"
	"github.com/example/babeldoc-web/api-go/internal/registry"
	"github.com/example/babeldoc-web/api-go/internal/sanitize"
	"github.com/example/babeldoc-web/api-go/internal/sweep"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the history database schema up to date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			v, err := st.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
			return nil
		},
	}
}

func newSweepCmd(a *app) *cobra.Command {
	var (
		owner string
		opts  sweep.Options
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Report and optionally remove orphaned outputs and history records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			hist := history.New(st, registry.New(), sanitize.New(a.cfg.SecretKeys...), a.log)
			sw := sweep.Sweeper{
				Records: hist,
				Outputs: blob.LocalFS{Root: a.cfg.OutputsDir},
				Ext:     a.cfg.ArtifactExt,
				Log:     a.log,
			}
			report, err := sw.Run(cmd.Context(), owner, opts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "limit orphan records to this owner (default all)")
	cmd.Flags().BoolVar(&opts.DeleteOrphanFiles, "delete-files", false, "remove output files no record references")
	cmd.Flags().BoolVar(&opts.DeleteOrphanRecords, "delete-records", false, "remove records whose outputs are gone")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import-history <file.json>",
		Short: "Load a JSON history export into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			san := sanitize.New(a.cfg.SecretKeys...)
			report, err := st.ImportJSON(cmd.Context(), f, san.Record)
			if err != nil {
				return err
			}
			for _, msg := range report.Errors {
				a.log.Warn(msg)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d, failed %d\n", report.Imported, report.Failed)
			return nil
		},
	}
}

func newTokenCmd(a *app) *cobra.Command {
	var ttl = auth.DefaultTokenTTL
	cmd := &cobra.Command{
		Use:   "token <owner>",
		Short: "Issue a bearer token for an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.RequireSecret(); err != nil {
				return err
			}
			v, err := auth.NewVerifier(a.cfg.Auth.Secret)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("ttl") && a.cfg.Auth.TokenTTL > 0 {
				ttl = a.cfg.Auth.TokenTTL
			}
			tok, err := v.Issue(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", ttl, "token lifetime")
	return cmd
}
