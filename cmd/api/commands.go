package main

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aisaas-platform/aisaas/internal/auth"
	"github.com/aisaas-platform/aisaas/internal/database"
	"github.com/aisaas-platform/aisaas/internal/models"
	"github.com/aisaas-platform/aisaas/internal/store"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Open(a.cfg.Database, a.logger)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newGrantAdminCmd(a *app) *cobra.Command {
	var revoke bool
	cmd := &cobra.Command{
		Use:   "grant-admin <external-id>",
		Short: "Grant (or revoke) administrator rights for an existing user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Open(a.cfg.Database, a.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			st := store.New(db, a.cfg.Database.Type)
			err = st.SetAdminByExternalID(cmd.Context(), args[0], !revoke)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("user %s not found; they must sign in once first", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin=%t for %s\n", !revoke, args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "Remove administrator rights instead")
	return cmd
}

func newIssueTokenCmd(a *app) *cobra.Command {
	var (
		email string
		name  string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token <external-id>",
		Short: "Mint a signed bearer token for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				ttl = a.cfg.Auth.TokenTTL
			}
			tm := auth.NewTokenManager(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer)
			token, err := tm.GenerateToken(models.Identity{ExternalID: args[0], Email: email, Name: name}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().StringVar(&name, "name", "", "Name claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default auth.token_ttl)")
	return cmd
}
