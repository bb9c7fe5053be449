package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"veganrecipes/client/internal/apiclient"
	"veganrecipes/client/internal/auth"
	"veganrecipes/client/internal/config"
	"veganrecipes/client/internal/logging"
	"veganrecipes/client/internal/session"
)

const usage = `usage: app [-config path] <command> [arguments]

commands:
  login -user <identifier> -password <password>
  register -user <username> -email <email> -password <password>
  me
  logout
  profile
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	appDir, err := config.DetectAppDir()
	if err != nil {
		return fmt.Errorf("determine app directory: %w", err)
	}
	defaultConfig := config.DefaultPath(appDir)
	configPath := flag.String("config", defaultConfig, "path to config.yaml")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		return fmt.Errorf("command is required")
	}

	cfg, err := config.Load(*configPath, appDir)
	if err != nil {
		return err
	}

	logLevel := logging.ParseLevel(cfg.LogLevel)
	logger, err := logging.New(cfg.LogFile, logLevel)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Close()

	baseCtx := logging.WithContext(context.Background(), logger)
	ctx, stop := signal.NotifyContext(baseCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Infof("recipes client starting (config: %s, api: %s)", *configPath, cfg.APIBaseURL)

	sessions, err := session.New(cfg.SessionFile, logger)
	if err != nil {
		return fmt.Errorf("initialize session store: %w", err)
	}
	api, err := apiclient.New(cfg.APIBaseURL, sessions, apiclient.Options{
		Logger:  logger,
		Timeout: cfg.RequestTimeout(),
	})
	if err != nil {
		return fmt.Errorf("initialize api client: %w", err)
	}
	controller := auth.NewController(api, sessions, logger, auth.Options{})

	return runCommand(ctx, controller, sessions, flag.Arg(0), flag.Args()[1:])
}

func runCommand(ctx context.Context, controller *auth.Controller, sessions *session.Store, command string, args []string) error {
	switch command {
	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		user := fs.String("user", "", "username or email")
		password := fs.String("password", "", "password")
		if err := fs.Parse(args); err != nil {
			return err
		}
		account, err := controller.Login(ctx, *user, *password)
		if err != nil {
			return err
		}
		if expires := sessions.AccessExpiresAt(); !expires.IsZero() {
			fmt.Printf("access token valid until %s\n", expires.Format(time.RFC3339))
		}
		return printJSON(account)
	case "register":
		fs := flag.NewFlagSet("register", flag.ExitOnError)
		user := fs.String("user", "", "username")
		email := fs.String("email", "", "email")
		password := fs.String("password", "", "password")
		if err := fs.Parse(args); err != nil {
			return err
		}
		account, err := controller.Register(ctx, *user, *email, *password)
		if err != nil {
			return err
		}
		return printJSON(account)
	case "me":
		account := controller.GetCurrentUser(ctx)
		if account == nil {
			fmt.Println("not logged in")
			return nil
		}
		return printJSON(account)
	case "logout":
		controller.Logout(ctx)
		fmt.Println("logged out")
		return nil
	case "profile":
		profile, err := controller.Profile(ctx)
		if err != nil {
			return err
		}
		return printJSON(profile)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func printJSON(value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
