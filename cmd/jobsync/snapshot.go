package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dunamismax/jobsync/internal/config"
	"github.com/dunamismax/jobsync/internal/domain"
	"github.com/dunamismax/jobsync/internal/gateway"
	"github.com/dunamismax/jobsync/internal/projection"
	"github.com/dunamismax/jobsync/internal/session"
	"github.com/dunamismax/jobsync/internal/syncer"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Reconcile one view against the marketplace and print it",
	Long:  "Reconcile the saved-jobs view, the applications view or a single job for one user and print the projected result as JSON.",
	RunE:  runSnapshot,
}

var (
	snapshotToken   string
	snapshotUser    string
	snapshotView    string
	snapshotJobID   string
	snapshotSearch  string
	snapshotSort    string
	snapshotReverse bool
	snapshotPage    int
	snapshotExport  string
	snapshotVerbose bool
)

func init() {
	snapshotCmd.Flags().StringVar(&snapshotToken, "token", "", "Marketplace bearer token (overrides MARKETPLACE_TOKEN env var)")
	snapshotCmd.Flags().StringVar(&snapshotUser, "user", "cli", "User ID recorded in the mutation journal")
	snapshotCmd.Flags().StringVar(&snapshotView, "view", "saved", "View to reconcile: saved, applications or job")
	snapshotCmd.Flags().StringVar(&snapshotJobID, "job", "", "Job ID (required with --view job)")
	snapshotCmd.Flags().StringVarP(&snapshotSearch, "search", "q", "", "Case-insensitive search over title, employer, category and skills")
	snapshotCmd.Flags().StringVar(&snapshotSort, "sort", "", "Sort key: recency, salary, experience or alphabetical")
	snapshotCmd.Flags().BoolVar(&snapshotReverse, "reverse", false, "Reverse the sort order")
	snapshotCmd.Flags().IntVar(&snapshotPage, "page", 1, "Page to print")
	snapshotCmd.Flags().StringVar(&snapshotExport, "export", "", "Also write the JSON to this object key in resume storage")
	snapshotCmd.Flags().BoolVarP(&snapshotVerbose, "verbose", "v", false, "Log every view update while checks arrive")

	rootCmd.AddCommand(snapshotCmd)
}

type jobSnapshot struct {
	Job         domain.JobRef            `json:"job"`
	Interaction domain.InteractionRecord `json:"interaction"`
	Controls    projection.Controls      `json:"controls"`
	Failures    []string                 `json:"failures,omitempty"`
}

type viewSnapshot struct {
	View     string          `json:"view"`
	Page     projection.Page `json:"page"`
	Failures []string        `json:"failures,omitempty"`
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()

	token := snapshotToken
	if token == "" {
		token = os.Getenv("MARKETPLACE_TOKEN")
	}
	if token == "" {
		return fmt.Errorf("token is required (set MARKETPLACE_TOKEN environment variable or use --token flag)")
	}

	logger := log.New(io.Discard, "", 0)
	if snapshotVerbose {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags|log.Lmsgprefix)
	}

	sessions := session.NewManager(session.Config{
		MaxConcurrentChecks: cfg.Session.MaxConcurrentChecks,
		Logger:              logger,
	}, func(source gateway.TokenSource) (gateway.RemoteJobGateway, error) {
		return gateway.NewClient(gateway.Config{
			BaseURL:        cfg.Gateway.BaseURL,
			Timeout:        cfg.Gateway.Timeout,
			MaxAttempts:    cfg.Gateway.MaxAttempts,
			InitialBackoff: cfg.Gateway.InitialBackoff,
			MaxBackoff:     cfg.Gateway.MaxBackoff,
			Logger:         logger,
		}, source)
	}, nil)
	defer sessions.Close()

	ctx := cmd.Context()
	sess, err := sessions.Acquire(ctx, snapshotUser, token)
	if err != nil {
		return err
	}
	filters := projection.Filters{
		Search:   snapshotSearch,
		Sort:     projection.ParseSortKey(snapshotSort),
		Reverse:  snapshotReverse,
		PageSize: cfg.View.PageSize,
	}

	var out any
	switch strings.ToLower(snapshotView) {
	case "saved":
		out, err = snapshotList(ctx, sess, "saved", filters, cfg.View.FetchPageSize, logger)
	case "applications":
		out, err = snapshotList(ctx, sess, "applications", filters, cfg.View.FetchPageSize, logger)
	case "job":
		if snapshotJobID == "" {
			return fmt.Errorf("--job is required with --view job")
		}
		out, err = snapshotJob(ctx, sess.Engine, snapshotJobID)
	default:
		return fmt.Errorf("unknown view %q", snapshotView)
	}
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if snapshotExport != "" {
		if err := exportSnapshot(ctx, cfg.Storage, snapshotExport, data); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Exported snapshot to %s\n", snapshotExport)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

// snapshotList loads every page of the listing first and keeps a live view
// open on the session while the secondary checks fill in.
func snapshotList(ctx context.Context, sess *session.Session, view string, filters projection.Filters, fetchPageSize int, logger *log.Logger) (viewSnapshot, error) {
	var (
		listing syncer.Listing
		err     error
	)
	if view == "saved" {
		listing, err = sess.Engine.LoadAllSavedJobs(ctx, fetchPageSize)
	} else {
		listing, err = sess.Engine.LoadAllApplications(ctx, fetchPageSize)
	}
	if err != nil {
		return viewSnapshot{}, err
	}

	live := sess.OpenView(listing.Jobs, filters, func(p *projection.Projection) {
		logger.Printf("view updated view=%s total=%d pages=%d", view, p.Total(), p.TotalPages())
	})
	defer sess.CloseView(live)

	ids := make([]string, 0, len(listing.Jobs))
	for _, job := range listing.Jobs {
		ids = append(ids, job.ID)
	}
	var report *syncer.Report
	if view == "saved" {
		report = sess.Engine.EnrichApplied(ctx, ids)
	} else {
		report = sess.Engine.EnrichSaved(ctx, ids)
	}

	return viewSnapshot{
		View:     view,
		Page:     live.Projection().Page(snapshotPage),
		Failures: failureLines(report),
	}, nil
}

func snapshotJob(ctx context.Context, engine *syncer.Engine, jobID string) (jobSnapshot, error) {
	job, report, err := engine.RefreshJob(ctx, jobID)
	if err != nil {
		return jobSnapshot{}, err
	}
	rec := engine.Store().Get(jobID)
	return jobSnapshot{
		Job:         job,
		Interaction: rec,
		Controls:    projection.DetailControls(rec),
		Failures:    failureLines(report),
	}, nil
}

func failureLines(report *syncer.Report) []string {
	var out []string
	for _, f := range report.Failures {
		line := string(f.Collection)
		if f.JobID != "" {
			line += " " + f.JobID
		}
		out = append(out, line+": "+domain.MessageOf(f.Err))
	}
	return out
}

func exportSnapshot(ctx context.Context, cfg config.StorageConfig, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	files, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	if err := files.WriteObject(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("export snapshot: %w", err)
	}
	return nil
}
