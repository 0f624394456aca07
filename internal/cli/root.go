// Package cli implements trustctl, the moderator command line for bans,
// warnings and MFA recovery.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-trustgate/internal/config"
	"github.com/tendant/simple-trustgate/pkg/auth"
	"github.com/tendant/simple-trustgate/pkg/domain"
	"github.com/tendant/simple-trustgate/pkg/moderation"
	"github.com/tendant/simple-trustgate/pkg/repository"
)

// Moderator is the write side of moderation.
type Moderator interface {
	Ban(ctx context.Context, req moderation.BanRequest) (*domain.Ban, error)
	Unban(ctx context.Context, userID uuid.UUID) error
	Warn(ctx context.Context, req moderation.WarnRequest) (*domain.Warning, error)
	History(ctx context.Context, userID uuid.UUID) (*moderation.History, error)
}

// MFAAdmin is the subset of MFA operations available to moderators.
type MFAAdmin interface {
	Status(ctx context.Context, userID uuid.UUID) (*domain.MFAStatus, error)
	Reset(ctx context.Context, userID uuid.UUID) error
}

// Services are the backends a command runs against.
type Services struct {
	Moderation Moderator
	MFA        MFAAdmin
	close      func() error
}

// Close releases the underlying connection.
func (s *Services) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Opener connects the services a command needs.
type Opener func(ctx context.Context) (*Services, error)

type app struct {
	open    Opener
	timeout time.Duration
	actor   string
	stdout  io.Writer
	stderr  io.Writer
}

// NewRootCommand returns trustctl backed by the database configured in the
// environment.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(openFromEnv, os.Stdout, os.Stderr)
}

// NewRootCommandWith returns trustctl backed by open.
func NewRootCommandWith(open Opener, out, errOut io.Writer) *cobra.Command {
	a := &app{open: open, stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:           "trustctl",
		Short:         "Manage bans, warnings and MFA recovery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().DurationVar(&a.timeout, "timeout", 10*time.Second, "timeout for each command")
	cmd.PersistentFlags().StringVar(&a.actor, "as", "", "moderator user ID recorded on bans and warnings")

	cmd.AddCommand(newBanCmd(a))
	cmd.AddCommand(newUnbanCmd(a))
	cmd.AddCommand(newWarnCmd(a))
	cmd.AddCommand(newHistoryCmd(a))
	cmd.AddCommand(newMFACmd(a))
	return cmd
}

// run connects, executes fn under the command timeout, and closes.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context, s *Services) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
	defer cancel()

	s, err := a.open(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer s.Close()
	return fn(ctx, s)
}

func (a *app) moderator() (uuid.UUID, error) {
	if a.actor == "" {
		return uuid.Nil, fmt.Errorf("--as is required")
	}
	id, err := uuid.Parse(a.actor)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --as user ID: %w", err)
	}
	return id, nil
}

func parseUserID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user ID %q: %w", arg, err)
	}
	return id, nil
}

func openFromEnv(ctx context.Context) (*Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	key, err := cfg.MFAKey()
	if err != nil {
		return nil, err
	}

	db, err := repository.NewDB(cfg.Database())
	if err != nil {
		return nil, err
	}
	return newServices(db, cfg, key), nil
}

func newServices(db *sql.DB, cfg *config.Config, key []byte) *Services {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	codes := repository.NewMFABackupCodesRepository(db)
	mfa := auth.NewMFAService(auth.MFAConfig{
		Issuer:        cfg.MFAIssuer,
		EncryptionKey: key,
		Lockout:       cfg.Lockout(),
	}, repository.NewMFAFactorsRepository(db, codes), codes, repository.NewMFAAttemptsRepository(db), logger)

	return &Services{
		Moderation: moderation.NewService(repository.NewBansRepository(db), repository.NewWarningsRepository(db), logger),
		MFA:        mfa,
		close:      db.Close,
	}
}
