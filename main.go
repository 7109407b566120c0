package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/mailpulse/mailpulse/internal/applog"
	"github.com/mailpulse/mailpulse/internal/config"
	"github.com/mailpulse/mailpulse/internal/db"
	"github.com/mailpulse/mailpulse/internal/hub"
	"github.com/mailpulse/mailpulse/internal/janitor"
	"github.com/mailpulse/mailpulse/internal/webserver"
)

func openDB() (*db.DB, error) {
	dbPath := config.DBPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, err
	}
	store, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	return pw, err
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func main() {
	if len(os.Args) >= 3 && os.Args[1] == "adduser" {
		username := os.Args[2]
		pw, err := readPassword(fmt.Sprintf("Password for %s: ", username))
		if err != nil {
			fatal(err)
		}
		hash, err := bcrypt.GenerateFromPassword(pw, bcrypt.DefaultCost)
		if err != nil {
			fatal(err)
		}
		store, err := openDB()
		if err != nil {
			fatal(err)
		}
		defer store.Close()
		user, err := store.CreateUser(username, string(hash))
		if err != nil {
			fatal(fmt.Errorf("creating user: %w", err))
		}
		fmt.Printf("User created: %s (%s)\n", user.Username, user.ID)
		return
	}

	if len(os.Args) >= 3 && os.Args[1] == "passwd" {
		username := os.Args[2]
		pw, err := readPassword(fmt.Sprintf("New password for %s: ", username))
		if err != nil {
			fatal(err)
		}
		hash, err := bcrypt.GenerateFromPassword(pw, bcrypt.DefaultCost)
		if err != nil {
			fatal(err)
		}
		store, err := openDB()
		if err != nil {
			fatal(err)
		}
		defer store.Close()
		user, err := store.GetUserByUsername(username)
		if err != nil {
			fatal(fmt.Errorf("user not found: %w", err))
		}
		store.UpdateUserPassword(user.ID, string(hash))
		store.DeleteRefreshTokensByUser(user.ID)
		fmt.Printf("Password updated: %s (all sessions invalidated)\n", username)
		return
	}

	if len(os.Args) >= 4 && os.Args[1] == "addaccount" {
		username, email := os.Args[2], os.Args[3]
		displayName := ""
		if len(os.Args) >= 5 {
			displayName = os.Args[4]
		}
		store, err := openDB()
		if err != nil {
			fatal(err)
		}
		defer store.Close()
		user, err := store.GetUserByUsername(username)
		if err != nil {
			fatal(fmt.Errorf("user not found: %w", err))
		}
		account, err := store.CreateMailAccount(user.ID, email, displayName)
		if err != nil {
			fatal(fmt.Errorf("creating account: %w", err))
		}
		fmt.Printf("Mail account created: %s (%s)\n", account.Email, account.ID)
		return
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load config: %v\n", err)
		cfg = config.Defaults()
	}

	if err := config.EnsureJWTSecret(config.DefaultPath(), &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not persist JWT secret: %v\n", err)
	}

	logDir := cfg.LogDir
	if logDir == "" {
		home, _ := os.UserHomeDir()
		logDir = filepath.Join(home, ".mailpulse", "logs")
	}
	logger, logCloser, err := applog.Init(applog.InitConfig{
		LogDir:   logDir,
		LogLevel: cfg.LogLevel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not init log file: %v\n", err)
		logger = slog.Default() // falls back to default (stderr)
	} else {
		defer logCloser.Close()
	}

	store, err := openDB()
	if err != nil {
		fatal(fmt.Errorf("could not open database: %w", err))
	}
	defer store.Close()

	h := hub.New(cfg.HubBuffer, logger)

	srv := webserver.New(store, h, cfg.Webserver, logger)
	if err := srv.Start(); err != nil {
		fatal(fmt.Errorf("webserver: %w", err))
	}

	jan := janitor.New(store, h, logger)
	jan.Start()
	defer jan.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", "err", err)
	}
}
