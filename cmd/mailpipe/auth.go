package main

import (
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nhle/mailpipe/internal/apperr"
	"github.com/nhle/mailpipe/internal/theme"
)

func loginCmd(e *env) *cobra.Command {
	var code string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize mailpipe to read and send your mail",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := e.openManager()
			if err != nil {
				return err
			}

			if code == "" {
				printf(cmd, "%s\n\n%s\n\n", theme.HeaderStyle.Render("Open this URL and approve access:"), m.AuthCodeURL(uuid.NewString()))
				err := huh.NewInput().
					Title("Authorization code").
					Description("Paste the code shown after approving").
					Value(&code).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return apperr.Invalidf("code is required")
						}
						return nil
					}).
					Run()
				if err != nil {
					return apperr.New(apperr.Invalid, "login cancelled", err)
				}
			}

			id, err := m.CompleteAuthorization(cmd.Context(), strings.TrimSpace(code))
			if err != nil {
				return err
			}
			printf(cmd, "logged in as %s\n", id.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "authorization code (skips the prompt)")
	return cmd
}

func logoutCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the current user and their mirrored mail",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := e.currentUser(cmd.Context())
			if err != nil {
				return err
			}
			m, err := e.openManager()
			if err != nil {
				return err
			}
			if err := m.Logout(cmd.Context(), user.ID); err != nil {
				return err
			}
			printf(cmd, "logged out %s\n", user.Email)
			return nil
		},
	}
}
