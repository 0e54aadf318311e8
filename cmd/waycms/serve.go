package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sigman78/waycms/internal/auth"
	"github.com/sigman78/waycms/internal/backup"
	"github.com/sigman78/waycms/internal/config"
	"github.com/sigman78/waycms/internal/mail"
	"github.com/sigman78/waycms/internal/sandbox"
	"github.com/sigman78/waycms/internal/server"
	"github.com/sigman78/waycms/internal/store"
	"github.com/sigman78/waycms/internal/tenancy"
)

const cleanupInterval = time.Hour

var listenFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the editor web server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		if listenFlag != "" {
			cfg.Listen = listenFlag
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&listenFlag, "listen", "l", "", "listen address, overrides the listen setting")
	rootCmd.AddCommand(serveCmd)
}

func retention(cfg *config.Config) backup.Policy {
	return backup.Policy{KeepDaily: cfg.Backup.KeepDaily, KeepWeekly: cfg.Backup.KeepWeekly, KeepLast: cfg.Backup.KeepLast}
}

// serve runs the HTTP server next to the background jobs of the
// configured mode until ctx is cancelled or one of them fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	opts := server.Options{
		Cookies:        auth.Cookies{Secure: cfg.SecureCookies},
		AppURL:         cfg.AppURL,
		Extensions:     cfg.AllowedExtensions,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Retention:      retention(cfg),
		Limiter:        auth.NewLimiter(cfg.LoginPerMinute, cfg.LoginPerMinute),
		Logger:         logger,
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Multi() {
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		if err := seedAdmin(ctx, cfg, st, logger); err != nil {
			return err
		}
		sessions := &auth.DBSessions{Store: st}
		projects := &tenancy.Multi{Store: st, BaseDir: cfg.ProjectsDir, BackupDir: cfg.BackupDir()}
		opts.Resolver = projects
		opts.Projects = projects
		opts.Sessions = sessions
		opts.Store = st
		opts.Accounts = &auth.Accounts{
			Store:      st,
			Sessions:   sessions,
			Mailer:     newMailer(cfg, logger),
			AppURL:     cfg.AppURL,
			LinkTTL:    cfg.MagicLinkTTL(),
			SessionTTL: cfg.SessionTTL(),
			Logger:     logger,
		}
		g.Go(func() error { return backupProjects(ctx, projects, cfg, logger) })
		g.Go(func() error { return cleanup(ctx, st, logger) })
		logger.Info("multi-tenant mode", "projects_dir", cfg.ProjectsDir, "db", cfg.DBPath())
	} else {
		root, err := singleRoot(cfg)
		if err != nil {
			return err
		}
		sessions := auth.NewMemorySessions()
		opts.Resolver = &tenancy.Single{Root: root, BackupDir: cfg.BackupDir()}
		opts.Sessions = sessions
		opts.Password = &auth.PasswordGuard{Secret: cfg.Password, Sessions: sessions, TTL: cfg.SessionTTL()}
		if !opts.Password.Enabled() {
			logger.Warn("no password configured, the editor is open to anyone who can reach it")
		}
		sched := &backup.Scheduler{
			Manager:  &backup.Manager{Dir: cfg.BackupDir(), Root: root, Logger: logger},
			Interval: cfg.Backup.Interval,
			Policy:   retention(cfg),
			Logger:   logger,
		}
		g.Go(func() error { return sched.Run(ctx) })
		logger.Info("single-tenant mode", "base_dir", root.Root())
	}

	srv := server.New(opts)
	g.Go(func() error { return srv.Run(ctx, cfg.Listen) })
	return g.Wait()
}

func singleRoot(cfg *config.Config) (*sandbox.Sandbox, error) {
	if err := os.MkdirAll(cfg.BaseDir, 0o750); err != nil {
		return nil, fmt.Errorf("base dir: %w", err)
	}
	return sandbox.New(cfg.BaseDir)
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	return store.Open(ctx, cfg.DBPath())
}

// seedAdmin makes sure the configured administrator exists. The password
// may be given in plain text or as a bcrypt hash.
func seedAdmin(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) error {
	if cfg.Admin.Email == "" {
		stats, err := st.Stats(ctx)
		if err != nil {
			return err
		}
		if stats.Users == 0 {
			logger.Warn("no users yet; set admin.email to create the first administrator")
		}
		return nil
	}
	hash := cfg.Admin.Password
	if hash != "" && !auth.IsHash(hash) {
		var err error
		if hash, err = auth.HashPassword(hash); err != nil {
			return err
		}
	}
	u, err := st.EnsureAdmin(ctx, cfg.Admin.Email, cfg.Admin.Name, hash)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	logger.Info("administrator ready", "email", u.Email, "password", u.HasPassword())
	return nil
}

// newMailer returns an SMTP mailer, or a mailer that only logs when no
// SMTP host is configured.
func newMailer(cfg *config.Config, logger *slog.Logger) mail.Mailer {
	if cfg.SMTP.Host == "" {
		logger.Warn("smtp not configured, sign-in links are written to the log")
		return &mail.LogMailer{Logger: logger}
	}
	return &mail.SMTPMailer{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
		StartTLS: cfg.SMTP.UseTLS,
		Timeout:  30 * time.Second,
	}
}

// backupProjects backs up every project each interval.
func backupProjects(ctx context.Context, projects *tenancy.Multi, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Backup.Interval <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(cfg.Backup.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		list, err := projects.Store.Projects(ctx)
		if err != nil {
			logger.Error("list projects for backup", "err", err)
			continue
		}
		for _, p := range list {
			if ctx.Err() != nil {
				return nil
			}
			proj, err := projects.Open(ctx, p.Slug)
			if err != nil {
				logger.Error("open project for backup", "project", p.Slug, "err", err)
				continue
			}
			plog := logger.With("project", p.Slug)
			sched := &backup.Scheduler{
				Manager: &backup.Manager{Dir: proj.BackupDir, Root: proj.Root, Logger: plog},
				Policy:  retention(cfg),
				Logger:  plog,
			}
			b, err := sched.RunOnce(ctx)
			switch {
			case errors.Is(err, backup.ErrLocked):
				plog.Debug("scheduled backup skipped", "reason", err)
			case err != nil:
				plog.Error("scheduled backup failed", "err", err)
			default:
				plog.Debug("scheduled backup done", "name", b.Name)
			}
		}
	}
}

// cleanup removes expired sessions and sign-in links.
func cleanup(ctx context.Context, st *store.Store, logger *slog.Logger) error {
	t := time.NewTicker(cleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := st.Cleanup(ctx)
			if err != nil {
				logger.Warn("token cleanup failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Debug("expired tokens removed", "count", n)
			}
		}
	}
}
