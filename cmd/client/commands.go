package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atinyakov/tagkeeper/internal/certgen"
	"github.com/atinyakov/tagkeeper/internal/client/api"
	"github.com/atinyakov/tagkeeper/internal/content"
	"github.com/atinyakov/tagkeeper/internal/errs"
	"github.com/atinyakov/tagkeeper/internal/models"
	"github.com/atinyakov/tagkeeper/internal/phrase"
	"github.com/atinyakov/tagkeeper/internal/tagcache"
)

// local marks commands that can run without a client certificate.
var local = map[string]string{"offline": "true"}

// offlineAPI stands in for the server when no client certificate is
// available. Cached tags can still be listed.
type offlineAPI struct{}

func (offlineAPI) ListSecretTags(context.Context) ([]models.Tag, error) {
	return nil, errs.ErrNetworkUnavailable
}

func (offlineAPI) DeleteSecretTag(context.Context, string) error { return errs.ErrNetworkUnavailable }

func (offlineAPI) RegisterStart(context.Context, models.RegisterStartRequest) (models.RegisterStartResponse, error) {
	return models.RegisterStartResponse{}, errs.ErrNetworkUnavailable
}

func (offlineAPI) RegisterFinish(context.Context, models.RegisterFinishRequest) (models.Tag, error) {
	return models.Tag{}, errs.ErrNetworkUnavailable
}

func (offlineAPI) LoginStart(context.Context, models.LoginStartRequest) (models.LoginStartResponse, error) {
	return models.LoginStartResponse{}, errs.ErrNetworkUnavailable
}

func (offlineAPI) LoginFinish(context.Context, models.LoginFinishRequest) error {
	return errs.ErrNetworkUnavailable
}

var enrollCmd = &cobra.Command{
	Use:         "enroll <owner>",
	Short:       "Obtain a client certificate for a new owner",
	Args:        cobra.ExactArgs(1),
	Annotations: local,
	RunE: func(cmd *cobra.Command, args []string) error {
		hc, err := api.NewEnrollmentClient(cli.cfg.CAFile, cli.cfg.Timeout())
		if err != nil {
			return err
		}
		resp, err := api.New(cli.cfg.ServerURL, hc, cli.log).Enroll(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("enroll: %w", err)
		}
		if err := certgen.WritePair(cli.cfg.CertFile, cli.cfg.KeyFile, []byte(resp.Cert), []byte(resp.Key)); err != nil {
			return err
		}
		fmt.Printf("Enrolled %q. Certificate saved to %s\n", args[0], cli.cfg.CertFile)
		return nil
	},
}

var (
	createColor    string
	createEnhanced bool
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a secret tag protected by an activation phrase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("WARNING: " + phrase.UnrecoverablePhraseWarning)
		if !cli.prompts.Confirm("Continue?") {
			return errors.New("aborted")
		}
		secret, err := cli.prompts.NewPhrase("Activation phrase: ")
		if err != nil {
			return err
		}
		defer clear(secret)

		level := models.SecurityStandard
		if createEnhanced {
			level = models.SecurityEnhanced
		}
		tag, _, err := cli.tags.CreateSecretTag(cmd.Context(), args[0], secret, createColor, level)
		if err != nil {
			return err
		}
		fmt.Printf("Created secret tag %q (%s)\n", tag.Name, tag.ID)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:         "list",
	Short:       "List secret and regular tags",
	Annotations: local,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := cli.cache.GetSecretTags(cmd.Context())
		if err != nil && !errors.Is(err, errs.ErrNetworkUnavailable) {
			return err
		}
		if err != nil {
			fmt.Println("Server unreachable; showing cached secret tags.")
		}
		regular, err := cli.cache.RegularTags()
		if err != nil {
			return err
		}
		printTags(secret, regular)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <tag-id>",
	Short: "Delete a secret tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cli.prompts.Confirm(fmt.Sprintf("Delete secret tag %s?", args[0])) {
			return errors.New("aborted")
		}
		if err := cli.tags.DeleteSecretTag(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Secret tag deleted")
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh the secret-tag cache from the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := cli.cache.SyncWithServer(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Synced: %d added, %d removed, %d updated\n", res.Added, res.Removed, res.Updated)
		return nil
	},
}

var clearCacheCmd = &cobra.Command{
	Use:         "clear-cache",
	Short:       "Remove every cached secret tag from memory and disk",
	Annotations: local,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.cache.ClearCache(); err != nil {
			return err
		}
		fmt.Println("Secret tag cache cleared")
		return nil
	},
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt <tag-id>",
	Short: "Unlock a tag and encrypt content under it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := unlock(cmd.Context(), args[0]); err != nil {
			return err
		}
		text, err := cli.prompts.Content()
		if err != nil {
			return err
		}
		sealed, err := cli.tags.EncryptForTag(cmd.Context(), args[0], text)
		if err != nil {
			return err
		}
		fmt.Println(sealed.String())
		return nil
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <tag-id> <sealed>",
	Short: "Unlock a tag and decrypt content sealed under it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sealed, err := content.ParseSealed(args[1])
		if err != nil {
			return err
		}
		if err := unlock(cmd.Context(), args[0]); err != nil {
			return err
		}
		text, err := cli.tags.DecryptForTag(cmd.Context(), args[0], sealed)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	},
}

var selftestCmd = &cobra.Command{
	Use:         "selftest",
	Short:       "Check that content encryption works on this machine",
	Annotations: local,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !content.NewCipher(nil).TestEncryption() {
			return fmt.Errorf("encryption self-test failed: %w", errs.ErrCryptoFailure)
		}
		fmt.Println("Encryption self-test passed")
		return nil
	},
}

var modeCmd = &cobra.Command{
	Use:         "mode [online|offline|maximum|balanced|convenience|border]",
	Short:       "Show or change the security mode",
	Args:        cobra.MaximumNArgs(1),
	Annotations: local,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			m := cli.cache.Mode()
			fmt.Printf("Security mode: %s (%s)\n", m, m.Base())
			return nil
		}
		m, err := tagcache.ParseMode(args[0])
		if err != nil {
			return err
		}
		if err := cli.cache.SetMode(m); err != nil {
			return err
		}
		if err := cli.prefs.SetSecurityMode(m); err != nil {
			return err
		}
		fmt.Printf("Security mode set to %s\n", m)
		return nil
	},
}

var timeoutCmd = &cobra.Command{
	Use:         "timeout [minutes]",
	Short:       "Show or change the default session timeout",
	Args:        cobra.MaximumNArgs(1),
	Annotations: local,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			fmt.Printf("Session timeout: %s\n", cli.prefs.SessionTimeout())
			return nil
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%w: minutes must be a number", errs.ErrInvalidInput)
		}
		if err := cli.prefs.SetSessionTimeoutMinutes(n); err != nil {
			return err
		}
		fmt.Printf("Session timeout set to %d minutes\n", n)
		return nil
	},
}

var hiddenCmd = &cobra.Command{
	Use:         "hidden <setup|verify|disable|status>",
	Short:       "Manage the hidden-mode phrase for this device",
	Args:        cobra.ExactArgs(1),
	Annotations: local,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "setup":
			p, err := cli.prompts.NewPhrase("Hidden-mode phrase: ")
			if err != nil {
				return err
			}
			defer clear(p)
			if err := cli.hidden.Setup(p); err != nil {
				return err
			}
			fmt.Println("Hidden mode enabled")
		case "verify":
			p, err := cli.prompts.Phrase("Hidden-mode phrase: ")
			if err != nil {
				return err
			}
			defer clear(p)
			if !cli.hidden.Verify(p) {
				return errs.ErrAuthenticationFailed
			}
			fmt.Println("Phrase accepted")
		case "disable":
			if err := cli.hidden.Disable(); err != nil {
				return err
			}
			fmt.Println("Hidden mode disabled")
		case "status":
			on, err := cli.hidden.Enabled()
			if err != nil {
				return err
			}
			fmt.Printf("Hidden mode enabled: %t\n", on)
		default:
			return fmt.Errorf("%w: unknown hidden-mode action %q", errs.ErrInvalidInput, args[0])
		}
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createColor, "color", "", "tag color as #RRGGBB")
	createCmd.Flags().BoolVar(&createEnhanced, "enhanced", false, "bind the tag to this device")
}

// unlock asks for the tag's phrase and opens a session for it.
func unlock(ctx context.Context, tagID string) error {
	p, err := cli.prompts.Phrase("Activation phrase: ")
	if err != nil {
		return err
	}
	defer clear(p)
	return cli.tags.Unlock(ctx, tagID, p)
}

func printTags(secret, regular []models.Tag) {
	if len(secret) == 0 && len(regular) == 0 {
		fmt.Println("No tags")
		return
	}
	for _, t := range secret {
		fmt.Printf("%-36s  %-20s  secret   %s\n", t.ID, t.Name, strings.TrimSpace(t.ColorCode))
	}
	for _, t := range regular {
		fmt.Printf("%-36s  %-20s  regular  %s\n", t.ID, t.Name, strings.TrimSpace(t.ColorCode))
	}
}
