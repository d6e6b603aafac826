// Command import_members registers a cohort roster from a CSV file of
// "name,gender" rows. Members that already exist are left untouched.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"cohort-ledger/config"
	"cohort-ledger/ledger"
)

func importCommand() *cobra.Command {
	var rosterFile, envFile string
	cmd := &cobra.Command{
		Use:          "import_members",
		Short:        "Register a cohort roster from a name,gender CSV file",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), rosterFile, envFile)
		},
	}
	cmd.Flags().StringVar(&rosterFile, "roster", "members.csv", "CSV file with name,gender rows")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "path to a .env file")
	return cmd
}

func runImport(ctx context.Context, rosterFile, envFile string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	clock, err := ledger.NewZoneClock(cfg.Timezone)
	if err != nil {
		return err
	}
	mgr, err := ledger.OpenManager(cfg.DBDriver, cfg.DBDSN, ledger.Options{Clock: clock, Logger: logger})
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	defer mgr.Close()

	f, err := os.Open(rosterFile)
	if err != nil {
		return fmt.Errorf("error reading roster: %w", err)
	}
	defer f.Close()

	fmt.Printf("Importing members from %s...\n", rosterFile)
	created, existing, failed := importRoster(ctx, mgr, f)

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("New members: %d\n", created)
	fmt.Printf("Already registered: %d\n", existing)
	fmt.Printf("Errors: %d\n", failed)

	members, err := mgr.ListMembers(ctx)
	if err != nil {
		fmt.Printf("Error retrieving members: %v\n", err)
		return nil
	}
	fmt.Printf("\n%-36s %-20s %-7s\n", "ID", "Name", "Gender")
	fmt.Println(strings.Repeat("-", 65))
	for _, m := range members {
		fmt.Printf("%-36s %-20s %-7s\n", m.ID, m.Name, m.Gender)
	}
	return nil
}

func main() {
	if err := importCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// importRoster logs in every row's member. A header row starting with
// "name" is skipped; rows without a gender default to Female.
func importRoster(ctx context.Context, mgr *ledger.Manager, r io.Reader) (created, existing, failed int) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			fmt.Printf("line %d: ERROR - %v\n", line, err)
			failed++
			continue
		}
		if len(rec) == 0 || strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "name") {
			continue
		}
		gender := ledger.Female
		if len(rec) > 1 && strings.TrimSpace(rec[1]) != "" {
			gender = ledger.Gender(strings.TrimSpace(rec[1]))
		}

		fmt.Printf("Importing: %s... ", rec[0])
		m, isNew, err := mgr.Login(ctx, rec[0], gender)
		if err != nil {
			fmt.Printf("ERROR - %v\n", err)
			failed++
			continue
		}
		if isNew {
			fmt.Printf("SUCCESS (ID: %s)\n", m.ID)
			created++
		} else {
			fmt.Printf("exists (ID: %s)\n", m.ID)
			existing++
		}
	}
}
