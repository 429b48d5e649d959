package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/docopt/docopt-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/portal/internal/app"
	"github.com/nhle/portal/internal/backend"
	"github.com/nhle/portal/internal/credential"
	"github.com/nhle/portal/internal/logging"
	"github.com/nhle/portal/internal/mailbridge"
	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/realtime"
	"github.com/nhle/portal/internal/server"
	"github.com/nhle/portal/internal/store"
	"github.com/nhle/portal/internal/store/pgstore"
)

const version = "0.1.0"

const usage = `Company portal.

Runs the terminal client, the API and realtime server, or the mail bridge.
Settings come from the config file and PORTAL_* environment variables;
a .env file in the working directory is loaded first.

Usage:
    portal [tui] [--config=<path>]
    portal serve [--config=<path>] [--with-mailbridge]
    portal mailbridge [--config=<path>]
    portal token <employee_id> [--config=<path>] [--ttl=<minutes>]
    portal secret
    portal seed [--config=<path>]
    portal -h | --help
    portal --version

Options:
    -h --help          Show this screen.
    --version          Show version.
    --config=<path>    Config file [default: ~/.config/portal/config.yaml].
    --with-mailbridge  Also poll the mailbox for comment replies.
    --ttl=<minutes>    Token lifetime; defaults to realtime.token_ttl_min.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "portal: %v\n", err)
		os.Exit(1)
	}
}

func run(opts docopt.Opts) error {
	// .env is optional.
	_ = godotenv.Load()

	if secret, _ := opts.Bool("secret"); secret {
		return generateSecret()
	}

	cfg, err := model.LoadConfig(configPath(opts))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case flag(opts, "serve"):
		return serve(ctx, cfg, flag(opts, "--with-mailbridge"))
	case flag(opts, "mailbridge"):
		return runMailBridge(ctx, cfg)
	case flag(opts, "token"):
		employee, _ := opts.String("<employee_id>")
		return issueToken(cfg, employee, opts)
	case flag(opts, "seed"):
		return seed(ctx, cfg)
	default:
		return runTUI(ctx, cfg)
	}
}

func flag(opts docopt.Opts, name string) bool {
	v, _ := opts.Bool(name)
	return v
}

func configPath(opts docopt.Opts) string {
	path, _ := opts.String("--config")
	if path == "" || path == "~/.config/portal/config.yaml" {
		return model.DefaultConfigPath()
	}
	return path
}

// consoleLogger logs to stderr for the server-side commands.
func consoleLogger(cfg *model.AppConfig) (*logging.Logger, error) {
	return logging.New(cfg.Log, os.Stderr)
}

// openStore opens the configured row store with migrations applied.
func openStore(ctx context.Context, cfg *model.AppConfig) (store.Store, error) {
	switch cfg.Database.Driver {
	case model.DriverPostgres:
		return pgstore.Open(ctx, cfg.Database.DSN)
	case model.DriverSQLite, "":
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		return store.NewSQLiteStore(cfg.Database.Path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func tokens() (*realtime.Tokens, error) {
	secret, err := credential.Lookup(credential.KeyJWTSecret)
	if errors.Is(err, credential.ErrNotFound) {
		return nil, fmt.Errorf("no JWT secret: run `portal secret` or set %s", credential.EnvVar(credential.KeyJWTSecret))
	}
	if err != nil {
		return nil, err
	}
	return realtime.NewTokens([]byte(secret)), nil
}

func serve(ctx context.Context, cfg *model.AppConfig, withMail bool) error {
	log, err := consoleLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	tok, err := tokens()
	if err != nil {
		return err
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	broker := realtime.NewBroker(log.Logger)
	s.SetChangeSink(broker)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.New(s, broker, tok, cfg.Server.AllowedOrigins, log.Logger).ListenAndServe(ctx, cfg.Server.Addr)
	})
	if withMail {
		bridge, err := newBridge(cfg, s, log.Logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return bridge.Run(ctx) })
	}
	return g.Wait()
}

func newBridge(cfg *model.AppConfig, s mailbridge.Store, log zerolog.Logger) (*mailbridge.Bridge, error) {
	mb := cfg.MailBridge
	if mb.Host == "" || mb.Username == "" {
		return nil, errors.New("mailbridge.host and mailbridge.username must be set")
	}
	password, err := credential.Lookup(credential.KeyIMAPPassword)
	if err != nil {
		return nil, fmt.Errorf("loading IMAP password: %w", err)
	}
	mailbox := mailbridge.NewIMAPMailbox(mb.Host, mb.Port, mb.Username, password, mb.TLS, mb.Mailbox)
	return mailbridge.New(mailbox, s, time.Duration(mb.PollIntervalSec)*time.Second, log), nil
}

func runMailBridge(ctx context.Context, cfg *model.AppConfig) error {
	log, err := consoleLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	bridge, err := newBridge(cfg, s, log.Logger)
	if err != nil {
		return err
	}
	return bridge.Run(ctx)
}

func issueToken(cfg *model.AppConfig, employeeID string, opts docopt.Opts) error {
	ttl := time.Duration(cfg.Realtime.TokenTTLMin) * time.Minute
	if v, err := opts.Int("--ttl"); err == nil && v > 0 {
		ttl = time.Duration(v) * time.Minute
	}

	tok, err := tokens()
	if err != nil {
		return err
	}
	signed, err := tok.Issue(employeeID, ttl)
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}

func generateSecret() error {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generating secret: %w", err)
	}
	if err := credential.Set(credential.KeyJWTSecret, hex.EncodeToString(buf)); err != nil {
		return err
	}
	fmt.Println("JWT secret stored in the system keyring.")
	return nil
}

func runTUI(ctx context.Context, cfg *model.AppConfig) error {
	logCfg := cfg.Log
	if logCfg.File == "" {
		logCfg.File = filepath.Join(model.ConfigDir(), "portal.log")
	}
	log, err := logging.New(logCfg, nil)
	if err != nil {
		return err
	}
	defer log.Close()

	client, closeStore, err := connect(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer closeStore()
	defer client.Close()

	p := tea.NewProgram(app.New(client, cfg, log.Logger), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running terminal UI: %w", err)
	}
	return nil
}

// connect builds a remote client when realtime.url is configured and a
// local one over the configured store otherwise.
func connect(ctx context.Context, cfg *model.AppConfig, log zerolog.Logger) (*backend.Client, func(), error) {
	noop := func() {}

	if cfg.Realtime.URL != "" {
		token, err := credential.Lookup(credential.KeyAccessToken)
		if err != nil {
			return nil, noop, fmt.Errorf("loading access token: %w", err)
		}
		client, err := backend.NewRemote(ctx, cfg.Realtime.URL, token, log)
		return client, noop, err
	}

	if cfg.Identity.UserID == "" {
		return nil, noop, errors.New("identity.user_id must be set for local mode (see `portal seed`)")
	}
	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, noop, err
	}
	broker := realtime.NewBroker(log)
	s.SetChangeSink(broker)

	client, err := backend.NewLocal(ctx, s, broker, cfg.Identity.UserID, log)
	if err != nil {
		s.Close()
		return nil, noop, err
	}
	return client, func() { s.Close() }, nil
}
