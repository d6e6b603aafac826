package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"cohort-ledger/admin"
	"cohort-ledger/blobstore"
	"cohort-ledger/config"
	"cohort-ledger/ledger"
)

const programName = "cohort-ledger"

var globalFlags = struct {
	debug   bool
	envFile string
	admin   bool
}{}

// cfg is loaded once by the root command before any subcommand runs.
var cfg *config.Config

func commonRun() *slog.Logger {
	logLevel := slog.LevelInfo
	addSource := false
	if globalFlags.debug {
		logLevel = slog.LevelDebug
		addSource = true
	}
	logger := slog.New(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			AddSource: addSource,
			Level:     logLevel,
		}),
	)
	slog.SetDefault(logger)
	return logger
}

// readPassword reads a secret from the terminal without echoing it.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(os.Stderr)
	return strings.TrimSpace(string(b)), nil
}

func openManager(logger *slog.Logger) (*ledger.Manager, error) {
	clock, err := ledger.NewZoneClock(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	return ledger.OpenManager(cfg.DBDriver, cfg.DBDSN, ledger.Options{
		Clock:         clock,
		Logger:        logger,
		MaxFutureDays: cfg.MaxFutureDays,
	})
}

func newAuthority() *admin.Authority {
	return admin.NewAuthority(cfg.AdminSecretHash, cfg.AdminTokenKey, cfg.AdminTokenTTL)
}

func newBlobStore(ctx context.Context) (blobstore.Store, error) {
	if cfg.BlobBackend == "s3" {
		return blobstore.NewS3(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix)
	}
	return blobstore.NewLocal(cfg.UploadDir, "/static")
}

// cliCaller builds the identity for a mutating command. With --admin the
// admin secret is prompted for and checked before any write happens.
func cliCaller(memberID string) (ledger.Caller, error) {
	c := ledger.Caller{MemberID: strings.TrimSpace(memberID)}
	if !globalFlags.admin {
		return c, nil
	}
	secret, err := readPassword("Admin secret: ")
	if err != nil {
		return c, fmt.Errorf("failed to read admin secret: %w", err)
	}
	if err := newAuthority().CheckSecret(secret); err != nil {
		return c, err
	}
	c.Admin = true
	return c, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Points ledger for a cohort's daily activity proofs",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&globalFlags.envFile, "env-file", ".env", "path to a .env file")
	rootCmd.PersistentFlags().
		BoolVar(&globalFlags.admin, "admin", false, "act with admin authority (prompts for the admin secret)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(globalFlags.envFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		return nil
	}

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(memberCommand())
	rootCmd.AddCommand(submitCommand())
	rootCmd.AddCommand(editCommand())
	rootCmd.AddCommand(deleteCommand())
	rootCmd.AddCommand(feedCommand())
	rootCmd.AddCommand(rankCommand())
	rootCmd.AddCommand(reconcileCommand())
	rootCmd.AddCommand(adminCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
