// Package main is the tagkeeper command-line client. It enrolls an owner,
// manages secret tags and encrypts content under an unlocked tag.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atinyakov/tagkeeper/internal/client/api"
	"github.com/atinyakov/tagkeeper/internal/client/prompt"
	"github.com/atinyakov/tagkeeper/internal/client/secrettags"
	"github.com/atinyakov/tagkeeper/internal/config"
	"github.com/atinyakov/tagkeeper/internal/content"
	"github.com/atinyakov/tagkeeper/internal/kvstore"
	"github.com/atinyakov/tagkeeper/internal/logger"
	"github.com/atinyakov/tagkeeper/internal/preferences"
	"github.com/atinyakov/tagkeeper/internal/tagcache"
)

var (
	version   string
	buildDate string
)

var (
	configFile string
	serverURL  string
	logLevel   string
	sessionMin int
)

// app is built once per invocation by the root command's PersistentPreRunE.
type app struct {
	cfg     *config.Client
	log     *zap.Logger
	store   *kvstore.FileStore
	prefs   *preferences.Preferences
	cache   *tagcache.Cache
	client  *api.Client
	tags    *secrettags.Service
	hidden  *content.HiddenMode
	prompts *prompt.Prompter
}

var cli *app

var rootCmd = &cobra.Command{
	Use:     "tagkeeper",
	Short:   "Manage secret tags and the content they protect",
	Version: version,
	Long: `tagkeeper keeps secret tags whose activation phrases never leave this
device. A tag is unlocked by proving knowledge of its phrase to the server
without revealing it; the resulting session key encrypts and decrypts
content locally.

Run 'tagkeeper enroll' once to obtain a client certificate, then
'tagkeeper shell' for an interactive session.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cli != nil {
			cli.close()
		}
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("tagkeeper client\nVersion: %s\nBuild Date: %s\n", version, buildDate))
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: optional .env)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "server base URL (overrides TAGKEEPER_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().IntVar(&sessionMin, "session-timeout", 0, "session timeout in minutes for this run")

	rootCmd.AddCommand(enrollCmd, createCmd, listCmd, deleteCmd, syncCmd, clearCacheCmd,
		encryptCmd, decryptCmd, selftestCmd, modeCmd, timeoutCmd, hiddenCmd, shellCmd)
}

func main() {
	memguard.CatchInterrupt()
	defer memguard.Purge()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		memguard.SafeExit(1)
	}
}

// setup loads configuration and wires the client. Commands that talk to
// the server need the mTLS certificate; enroll builds its own client.
func setup(cmd *cobra.Command) error {
	cfg, err := config.LoadClient(configFile)
	if err != nil {
		return err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if sessionMin != 0 {
		cfg.SessionTimeoutMinutes = sessionMin
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	l := logger.New()
	if err := l.Init(cfg.LogLevel); err != nil {
		return err
	}
	log := l.Log

	store, err := kvstore.OpenFileStore(cfg.StorePath, log)
	if err != nil {
		return err
	}
	prefs := preferences.New(store, log)

	fallback, err := tagcache.ParseMode(cfg.SecurityMode)
	if err != nil {
		fallback = tagcache.DefaultMode
	}
	mode := prefs.SecurityMode(fallback)

	a := &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		prefs:   prefs,
		prompts: prompt.Stdio(),
	}

	hc, err := api.LoadClientCertificate(cfg.CertFile, cfg.KeyFile, cfg.CAFile, cfg.Timeout())
	if err != nil {
		if cmd.Annotations["offline"] != "true" {
			return fmt.Errorf("load client certificate (run 'tagkeeper enroll' first): %w", err)
		}
		log.Debug("no client certificate, continuing offline", zap.Error(err))
	}
	if hc != nil {
		a.client = api.New(cfg.ServerURL, hc, log)
	}

	var tagAPI secrettags.API = offlineAPI{}
	if a.client != nil {
		tagAPI = a.client
	}
	a.cache, err = tagcache.New(store, tagAPI, mode, tagcache.WithLogger(log))
	if err != nil {
		return err
	}

	device, err := prefs.DeviceFingerprint()
	if err != nil {
		return err
	}
	cipher := content.NewCipher(nil)
	opts := []secrettags.Option{
		secrettags.WithLogger(log),
		secrettags.WithCipher(cipher),
		secrettags.WithDeviceFingerprint(device),
	}
	if cfg.SessionTimeoutMinutes > 0 {
		opts = append(opts, secrettags.WithTimeoutOverride(time.Duration(cfg.SessionTimeoutMinutes)*time.Minute))
	}
	a.tags = secrettags.New(tagAPI, a.cache, prefs, opts...)
	a.hidden = content.NewHiddenMode(store, cipher, content.DefaultKDFParams, log)

	cli = a
	return nil
}

func (a *app) close() {
	if a.tags != nil {
		a.tags.Shutdown()
	}
	_ = a.log.Sync()
}
