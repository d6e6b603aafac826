package main

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cohort-ledger/admin"
	"cohort-ledger/ledger"
)

// withManager opens the ledger for the duration of a command.
func withManager(run func(cmd *cobra.Command, mgr *ledger.Manager, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		logger := commonRun()
		mgr, err := openManager(logger)
		if err != nil {
			return err
		}
		defer mgr.Close()
		return run(cmd, mgr, args)
	}
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

func printMembers(members []ledger.Member) {
	if len(members) == 0 {
		fmt.Println("No members registered.")
		return
	}
	fmt.Printf("%-36s %-20s %-7s %-6s\n", "ID", "Name", "Gender", "Points")
	fmt.Println(strings.Repeat("-", 72))
	for _, m := range members {
		fmt.Printf("%-36s %-20s %-7s %-6d\n", m.ID, truncateString(m.Name, 20), m.Gender, m.TotalPoints)
	}
}

func printSubmissions(subs []*ledger.Submission) {
	if len(subs) == 0 {
		fmt.Println("No submissions.")
		return
	}
	fmt.Printf("%-6s %-12s %-20s %-12s %s\n", "ID", "Type", "Member", "Date", "Content")
	fmt.Println(strings.Repeat("-", 90))
	for _, s := range subs {
		fmt.Printf("%-6d %-12s %-20s %-12s %s\n",
			s.ID, s.Type, truncateString(s.OwnerName, 20), s.Date, describeContent(s.Content))
	}
}

func describeContent(c ledger.Content) string {
	switch v := c.(type) {
	case ledger.AccountBookContent:
		return fmt.Sprintf("amount=%.0f", v.Amount)
	case ledger.JournalContent:
		return truncateString(v.Text, 30) + " " + v.Link
	case ledger.LinkContent:
		return v.Link
	}
	return ""
}

// ------------------ Members ------------------

func memberCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Manage cohort members",
	}

	var gender string
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Register a member",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(cmd *cobra.Command, mgr *ledger.Manager, args []string) error {
			m, err := mgr.CreateMember(cmd.Context(), args[0], ledger.Gender(gender))
			if err != nil {
				return err
			}
			fmt.Printf("Member added with ID %s\n", m.ID)
			return nil
		}),
	}
	add.Flags().StringVar(&gender, "gender", string(ledger.Female), "Male or Female")

	list := &cobra.Command{
		Use:   "list",
		Short: "List members in join order",
		Args:  cobra.NoArgs,
		RunE: withManager(func(cmd *cobra.Command, mgr *ledger.Manager, args []string) error {
			members, err := mgr.ListMembers(cmd.Context())
			if err != nil {
				return err
			}
			printMembers(members)
			return nil
		}),
	}

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show a member and their submissions",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(cmd *cobra.Command, mgr *ledger.Manager, args []string) error {
			m, err := mgr.GetMember(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s) %d points, joined %s\n", m.Name, m.Gender, m.TotalPoints, m.CreatedAt.Format(time.DateOnly))
			subs, err := mgr.ListMemberSubmissions(cmd.Context(), m.ID)
			if err != nil {
				return err
			}
			printSubmissions(subs)
			return nil
		}),
	}

	var as string
	setGender := &cobra.Command{
		Use:   "gender ID GENDER",
		Short: "Change a member's gender",
		Args:  cobra.ExactArgs(2),
		RunE: withManager(func(cmd *cobra.Command, mgr *ledger.Manager, args []string) error {
			if as == "" {
				as = args[0]
			}
			caller, err := cliCaller(as)
			if err != nil {
				return err
			}
			m, err := mgr.SetGender(cmd.Context(), args[0], caller, ledger.Gender(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("%s is now %s\n", m.Name, m.Gender)
			return nil
		}),
	}
	setGender.Flags().StringVar(&as, "as", "", "acting member id (defaults to the member itself)")

	cmd.AddCommand(add, list, show, setGender)
	return cmd
}

// ------------------ Submissions ------------------

// uploadImage stores the file at path through the configured blob store.
func uploadImage(cmd *cobra.Command, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > cfg.UploadMaxBytes {
		return "", fmt.Errorf("image is larger than %d bytes", cfg.UploadMaxBytes)
	}
	blobs, err := newBlobStore(cmd.Context())
	if err != nil {
		return "", err
	}
	return blobs.Put(cmd.Context(), filepath.Base(path), http.DetectContentType(data), bytes.NewReader(data))
}

func submitCommand() *cobra.Command {
	var member, typ, date, content, image string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Record an activity proof for a member",
		Args:  cobra.NoArgs,
		RunE: withManager(func(cmd *cobra.Command, mgr *ledger.Manager, args []string) error {
			t := ledger.SubmissionType(typ)
			c, err := ledger.DecodeContent(t, []byte(content))
			if err != nil {
				return err
			}
			if image != "" {
				ref, err := uploadImage(cmd, image)
				if err != nil {
					return err
				}
				if c, err = ledger.WithImageRef(c, ref); err != nil {
					return err
				}
			}
			s, err := mgr.CreateSubmission(cmd.Context(), member, t, date, c)
			if err != nil {
				return err
			}
			fmt.Printf("Submission %d recorded for %s on %s (+%d points)\n", s.ID, s.OwnerID, s.Date, s.Points)
			return nil
		}),
	}
	cmd.Flags().StringVar(&member, "member", "", "owning member id")
	cmd.Flags().StringVar(&typ, "type", "", "account_book, journal or content")
	cmd.Flags().StringVar(&date, "date", "", "YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&content, "content", "", `content JSON, e.g. {"amount":15000}`)
	cmd.Flags().StringVar(&image, "image", "", "optional image file to attach")
	_ = cmd.MarkFlagRequired("member")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func parseID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscan(s, &id); err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid submission id %q", s)
	}
	return id, nil
}

func editCommand() *cobra.Command {
	var as, date, content, image string
	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Change a submission's date or content",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(cmd *cobra.Command, mgr *ledger.Manager, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			caller, err := cliCaller(as)
			if err != nil {
				return err
			}
			current, err := mgr.GetSubmission(cmd.Context(), id)
			if err != nil {
				return err
			}
			var patch ledger.SubmissionPatch
			if cmd.Flags().Changed("date") {
				patch.Date = &date
			}
			if content != "" {
				if patch.Content, err = ledger.DecodeContent(current.Type, []byte(content)); err != nil {
					return err
				}
			}
			if image != "" {
				ref, err := uploadImage(cmd, image)
				if err != nil {
					return err
				}
				patch.ImageRef = &ref
			}
			s, err := mgr.UpdateSubmission(cmd.Context(), id, caller, patch)
			if err != nil {
				return err
			}
			fmt.Printf("Submission %d updated (%s, %s)\n", s.ID, s.Type, s.Date)
			return nil
		}),
	}
	cmd.Flags().StringVar(&as, "as", "", "acting member id")
	cmd.Flags().StringVar(&date, "date", "", "new date, YYYY-MM-DD")
	cmd.Flags().StringVar(&content, "content", "", "replacement content JSON")
	cmd.Flags().StringVar(&image, "image", "", "image file to attach")
	return cmd
}

func deleteCommand() *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Remove a submission and reverse its points",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(cmd *cobra.Command, mgr *ledger.Manager, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			caller, err := cliCaller(as)
			if err != nil {
				return err
			}
			if err := mgr.DeleteSubmission(cmd.Context(), id, caller); err != nil {
				return err
			}
			fmt.Printf("Submission %d deleted\n", id)
			return nil
		}),
	}
	cmd.Flags().StringVar(&as, "as", "", "acting member id")
	return cmd
}

func feedCommand() *cobra.Command {
	var typ string
	var skip, limit int
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "List recent submissions, newest first",
		Args:  cobra.NoArgs,
		RunE: withManager(func(cmd *cobra.Command, mgr *ledger.Manager, args []string) error {
			t, err := ledger.ParseSubmissionType(typ)
			if err != nil {
				return err
			}
			subs, err := mgr.ListSubmissions(cmd.Context(), ledger.Filter{Type: t, Offset: skip, Limit: limit})
			if err != nil {
				return err
			}
			printSubmissions(subs)
			return nil
		}),
	}
	cmd.Flags().StringVar(&typ, "type", "all", "filter by type")
	cmd.Flags().IntVar(&skip, "skip", 0, "entries to skip")
	cmd.Flags().IntVar(&limit, "limit", 20, "entries to show")
	return cmd
}

func rankCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Show the points ranking",
		Args:  cobra.NoArgs,
		RunE: withManager(func(cmd *cobra.Command, mgr *ledger.Manager, args []string) error {
			ranked, err := mgr.Rankings(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(ranked) == 0 {
				fmt.Println("No members registered.")
				return nil
			}
			fmt.Printf("%-5s %-20s %-7s %-6s\n", "Rank", "Name", "Gender", "Points")
			fmt.Println(strings.Repeat("-", 42))
			for _, r := range ranked {
				fmt.Printf("%-5d %-20s %-7s %-6d\n", r.Position, truncateString(r.Name, 20), r.Gender, r.TotalPoints)
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "members to show (0 for all)")
	return cmd
}

func reconcileCommand() *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare cached point totals with the ledger",
		Args:  cobra.NoArgs,
		RunE: withManager(func(cmd *cobra.Command, mgr *ledger.Manager, args []string) error {
			if fix {
				caller, err := cliCaller("")
				if err != nil {
					return err
				}
				if !caller.Admin {
					return fmt.Errorf("%w: --fix requires --admin", ledger.ErrForbidden)
				}
			}
			drifts, err := mgr.Reconcile(cmd.Context(), fix)
			if err != nil {
				return err
			}
			if len(drifts) == 0 {
				fmt.Println("All totals match the ledger.")
				return nil
			}
			fmt.Printf("%-36s %-20s %-7s %-7s\n", "ID", "Name", "Cached", "Ledger")
			fmt.Println(strings.Repeat("-", 73))
			for _, d := range drifts {
				fmt.Printf("%-36s %-20s %-7d %-7d\n", d.MemberID, truncateString(d.Name, 20), d.Cached, d.Ledger)
			}
			if fix {
				fmt.Printf("Repaired %d totals\n", len(drifts))
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "rewrite drifted totals (requires --admin)")
	return cmd
}

// ------------------ Admin ------------------

func adminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin secret and token utilities",
	}
	hash := &cobra.Command{
		Use:   "hash",
		Short: "Print the bcrypt hash to set as LEDGER_ADMIN_SECRET_HASH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readPassword("New admin secret: ")
			if err != nil {
				return fmt.Errorf("failed to read secret: %w", err)
			}
			confirm, err := readPassword("Confirm admin secret: ")
			if err != nil {
				return fmt.Errorf("failed to read secret: %w", err)
			}
			if secret != confirm {
				return fmt.Errorf("secrets do not match")
			}
			h, err := admin.HashSecret(secret)
			if err != nil {
				return err
			}
			fmt.Println(h)
			return nil
		},
	}
	token := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin bearer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readPassword("Admin secret: ")
			if err != nil {
				return fmt.Errorf("failed to read secret: %w", err)
			}
			tok, exp, err := newAuthority().IssueToken(secret)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.AddCommand(hash, token)
	return cmd
}
