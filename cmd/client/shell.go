package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atinyakov/tagkeeper/internal/client/secrettags"
	"github.com/atinyakov/tagkeeper/internal/content"
	"github.com/atinyakov/tagkeeper/internal/errs"
	"github.com/atinyakov/tagkeeper/internal/models"
	"github.com/atinyakov/tagkeeper/internal/phrase"
)

const shellHelp = `Available commands:
  list                      list tags
  create [--enhanced] <name>
                            create a secret tag, optionally bound to this device
  delete <tag-id>           delete a secret tag
  unlock <tag-id>           start a session for a tag
  resume <tag-id>           unlock a locked session again
  lock <tag-id>             lock a session, keeping its expiry
  extend <tag-id> [dur]     push a session's expiry out (e.g. 10m)
  end <tag-id>              end a session
  status                    show sessions
  encrypt <tag-id>          encrypt content under an unlocked tag
  decrypt <tag-id> <sealed> decrypt content
  watch <tag-id>            remember a tag's phrase for compose
  compose                   type text; a remembered phrase unlocks its tag
  background                lock everything as if the app lost focus
  sync                      refresh the cache
  help, exit`

var shellCmd = &cobra.Command{
	Use:         "shell",
	Short:       "Start an interactive session",
	Annotations: local,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		sh := &shell{app: cli}
		done := cli.tags.StartAutoSync(ctx, secrettags.DefaultSyncInterval)
		sh.run(ctx)
		cancel()
		<-done
		return nil
	},
}

// shell is the interactive loop. Watched phrases live in memory only and
// are dropped on background and exit.
type shell struct {
	*app
	candidates []phrase.Candidate
}

func (s *shell) run(ctx context.Context) {
	defer s.forget()
	for {
		line, err := s.prompts.Line("tagkeeper> ")
		if err != nil {
			return
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			fmt.Println("Bye")
			return
		}
		if err := s.exec(ctx, args); err != nil {
			fmt.Println("Error:", describe(err))
		}
	}
}

func (s *shell) exec(ctx context.Context, args []string) error {
	need := func(n int, usage string) error {
		if len(args) < n+1 {
			return fmt.Errorf("usage: %s", usage)
		}
		return nil
	}

	switch args[0] {
	case "help":
		fmt.Println(shellHelp)
	case "list":
		secret, err := s.cache.GetSecretTags(ctx)
		if err != nil {
			return err
		}
		regular, err := s.cache.RegularTags()
		if err != nil {
			return err
		}
		printTags(secret, regular)
	case "create":
		if err := need(1, "create [--enhanced] <name>"); err != nil {
			return err
		}
		level, name := models.SecurityStandard, args[1:]
		if name[0] == "--enhanced" {
			level, name = models.SecurityEnhanced, name[1:]
		}
		if len(name) == 0 {
			return fmt.Errorf("%w: usage: create [--enhanced] <name>", errs.ErrInvalidInput)
		}
		fmt.Println("WARNING: " + phrase.UnrecoverablePhraseWarning)
		if !s.prompts.Confirm("Continue?") {
			return nil
		}
		p, err := s.prompts.NewPhrase("Activation phrase: ")
		if err != nil {
			return err
		}
		defer clear(p)
		tag, _, err := s.tags.CreateSecretTag(ctx, strings.Join(name, " "), p, "", level)
		if err != nil {
			return err
		}
		fmt.Printf("Created secret tag %q (%s)\n", tag.Name, tag.ID)
	case "delete":
		if err := need(1, "delete <tag-id>"); err != nil {
			return err
		}
		if err := s.tags.DeleteSecretTag(ctx, args[1]); err != nil {
			return err
		}
		s.unwatch(args[1])
		fmt.Println("Secret tag deleted")
	case "unlock", "resume":
		if err := need(1, args[0]+" <tag-id>"); err != nil {
			return err
		}
		p, err := s.prompts.Phrase("Activation phrase: ")
		if err != nil {
			return err
		}
		defer clear(p)
		if args[0] == "resume" {
			err = s.tags.Resume(ctx, args[1], p)
		} else {
			err = s.tags.Unlock(ctx, args[1], p)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Unlocked for %s\n", s.tags.Sessions().RemainingTime(args[1]).Round(time.Second))
	case "lock":
		if err := need(1, "lock <tag-id>"); err != nil {
			return err
		}
		return s.tags.Lock(args[1])
	case "extend":
		if err := need(1, "extend <tag-id> [duration]"); err != nil {
			return err
		}
		var d time.Duration
		if len(args) > 2 {
			var err error
			if d, err = time.ParseDuration(args[2]); err != nil || d <= 0 {
				return fmt.Errorf("%w: bad duration %q", errs.ErrInvalidInput, args[2])
			}
		}
		return s.tags.Extend(args[1], d)
	case "end":
		if err := need(1, "end <tag-id>"); err != nil {
			return err
		}
		s.tags.Deactivate(args[1])
	case "status":
		infos := s.tags.Sessions().Sessions()
		if len(infos) == 0 {
			fmt.Println("No sessions")
		}
		for _, in := range infos {
			state := "active"
			if in.Locked {
				state = "locked"
			}
			fmt.Printf("%-36s  %-6s  expires in %s\n", in.TagID, state, time.Until(in.ExpiresAt).Round(time.Second))
		}
	case "encrypt":
		if err := need(1, "encrypt <tag-id>"); err != nil {
			return err
		}
		text, err := s.prompts.Content()
		if err != nil {
			return err
		}
		sealed, err := s.tags.EncryptForTag(ctx, args[1], text)
		if err != nil {
			return err
		}
		fmt.Println(sealed.String())
	case "decrypt":
		if err := need(2, "decrypt <tag-id> <sealed>"); err != nil {
			return err
		}
		sealed, err := content.ParseSealed(args[2])
		if err != nil {
			return err
		}
		text, err := s.tags.DecryptForTag(ctx, args[1], sealed)
		if err != nil {
			return err
		}
		fmt.Println(text)
	case "watch":
		if err := need(1, "watch <tag-id>"); err != nil {
			return err
		}
		p, err := s.prompts.Phrase("Activation phrase: ")
		if err != nil {
			return err
		}
		s.unwatch(args[1])
		s.candidates = append(s.candidates, phrase.Candidate{TagID: args[1], Phrase: string(p)})
		clear(p)
	case "compose":
		text, err := s.prompts.Line("Text: ")
		if err != nil {
			return err
		}
		m, ok, err := s.tags.HandleComposerText(ctx, text, s.candidates)
		if !ok {
			fmt.Println("No phrase detected")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("Unlocked tag %s\n", m.TagID)
	case "background":
		s.forget()
		if err := s.tags.OnBackground(); err != nil {
			return err
		}
		fmt.Println("All sessions locked")
	case "sync":
		return s.tags.SyncOnce(ctx)
	default:
		fmt.Println("Unknown command. Type 'help' for a list of commands.")
	}
	return nil
}

func (s *shell) unwatch(tagID string) {
	kept := s.candidates[:0]
	for _, c := range s.candidates {
		if c.TagID != tagID {
			kept = append(kept, c)
		}
	}
	clear(s.candidates[len(kept):])
	s.candidates = kept
}

func (s *shell) forget() {
	n := len(s.candidates)
	clear(s.candidates)
	s.candidates = nil
	s.log.Debug("watched phrases dropped", zap.Int("count", n))
}

// describe turns sentinel errors into short messages for the prompt.
func describe(err error) string {
	switch {
	case errors.Is(err, errs.ErrAuthenticationFailed):
		return "wrong phrase or unknown tag"
	case errors.Is(err, errs.ErrSessionNotActive):
		return "tag is not unlocked"
	case errors.Is(err, errs.ErrNetworkUnavailable):
		return "server unreachable"
	case errors.Is(err, errs.ErrRateLimited):
		return "too many attempts, try again later"
	default:
		return err.Error()
	}
}
