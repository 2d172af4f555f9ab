package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/mailpipe/internal/apperr"
	"github.com/nhle/mailpipe/internal/credential"
	"github.com/nhle/mailpipe/internal/model"
	"github.com/nhle/mailpipe/internal/theme"
)

func rotateKeyCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-key",
		Short: "Re-encrypt every stored secret under a new vault key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := e.openStore()
			if err != nil {
				return err
			}
			old, err := e.openVault()
			if err != nil {
				return err
			}

			key, err := credential.GenerateKey()
			if err != nil {
				return err
			}
			next, err := credential.NewVault(key)
			if err != nil {
				return err
			}

			n, err := s.RotateSecrets(ctx, func(ct *string) (*string, error) {
				return next.Reencrypt(ct, old)
			})
			if err != nil {
				return err
			}
			e.logger.Info("secrets re-encrypted", "count", n)

			// A key supplied by config or env cannot be updated from here.
			if e.cfg.Vault.Key != "" {
				printf(cmd, "%s\nMAILPIPE_VAULT_KEY=%s\n",
					theme.HeaderStyle.Render("Rotated. Replace your configured key with:"),
					credential.EncodeKey(key))
				return nil
			}

			ring, err := credential.OpenKeyring()
			if err == nil {
				err = credential.StoreKey(ring, key)
			}
			if err != nil {
				printf(cmd, "%s\nMAILPIPE_VAULT_KEY=%s\n",
					theme.ErrorStyle.Render("Rotated, but the keyring could not be updated. Keep this key:"),
					credential.EncodeKey(key))
				return err
			}
			printf(cmd, "rotated %d secrets; new key stored in the keyring\n", n)
			return nil
		},
	}
}

func configCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(configInitCmd(e))
	return cmd
}

func configInitCmd(e *env) *cobra.Command {
	var force, prompt bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := e.configPath
			if path == "" {
				path = model.DefaultConfigPath()
			}

			if _, err := os.Stat(path); err == nil && !force {
				return apperr.Invalidf("%s already exists, use --force to overwrite", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			cfg := e.cfg
			if prompt {
				provider := cfg.Mailbox.Provider
				err := huh.NewForm(
					huh.NewGroup(
						huh.NewInput().
							Title("Google client ID").
							Value(&cfg.Google.ClientID),
						huh.NewInput().
							Title("Google client secret").
							EchoMode(huh.EchoModePassword).
							Value(&cfg.Google.ClientSecret),
						huh.NewSelect[string]().
							Title("Mailbox").
							Options(
								huh.NewOption("Gmail API", "gmail"),
								huh.NewOption("IMAP + SMTP", "imap"),
							).
							Value(&provider),
					),
					huh.NewGroup(
						huh.NewInput().
							Title("Anthropic API key").
							Description("Leave empty to annotate with local heuristics").
							EchoMode(huh.EchoModePassword).
							Value(&cfg.AI.APIKey),
						huh.NewConfirm().
							Title("Generate a vault key in the OS keyring?").
							Value(&cfg.Vault.Generate),
					),
				).Run()
				if err != nil {
					return apperr.New(apperr.Invalid, "config init cancelled", err)
				}
				cfg.Mailbox.Provider = provider
				if cfg.AI.APIKey == "" {
					cfg.AI.Provider = "local"
				}
			}

			if err := model.SaveConfig(path, cfg); err != nil {
				return err
			}
			printf(cmd, "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.Flags().BoolVar(&prompt, "prompt", true, "ask for credentials interactively")
	return cmd
}
