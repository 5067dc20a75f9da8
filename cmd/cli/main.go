package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-repo-extractor/internal/aggregator"
	"github.com/kurihiro0119/github-repo-extractor/internal/auditlog"
	"github.com/kurihiro0119/github-repo-extractor/internal/config"
	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
	"github.com/kurihiro0119/github-repo-extractor/internal/logging"
	"github.com/kurihiro0119/github-repo-extractor/internal/runner"
	"github.com/kurihiro0119/github-repo-extractor/pkg/client"
)

// errAtRisk makes the process exit with status 2: the run finished but its
// dataset is not complete
var errAtRisk = errors.New("dataset at risk")

var (
	cfgFile    string
	outputJSON bool
	remote     bool

	startDate      string
	endDate        string
	resumeRunID    string
	filtersFile    string
	discardPartial bool
	abortAfter     int

	runsLimit   int
	auditFile   string
	auditRedis  bool
	auditStatus string
)

var rootCmd = &cobra.Command{
	Use:   "repo-extractor",
	Short: "GitHub repository search extractor",
	Long: `A CLI tool for extracting repository metadata from the GitHub search API.

The date range is split into one query per creation day so that no query
exceeds the 1,000-result ceiling of the search API. Every day is audited as
COMPLETE, TRUNCATED or FAILED, so an incomplete dataset is never mistaken
for a complete one.`,
	SilenceUsage: true,
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run an extraction",
	Long:  `Extract every repository created in the date range and store it with its partition audit log.`,
	Args:  cobra.NoArgs,
	RunE:  runExtract,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List extraction runs",
	Args:  cobra.NoArgs,
	RunE:  runListRuns,
}

var auditCmd = &cobra.Command{
	Use:   "audit [run-id]",
	Short: "Show the partition audit log of a run",
	Long:  `Show the partition audit log of a run from storage, the JSONL audit file or Redis.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runAudit,
}

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Check the completeness of a run",
	Long:  `Compare reported, retrieved and persisted counts of a run. Exits with status 2 when the dataset is at risk.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "env file (default is .env)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&remote, "remote", false, "query the API server at API_ENDPOINT instead of local storage")

	extractCmd.Flags().StringVar(&startDate, "start", "", "first creation day (YYYY-MM-DD)")
	extractCmd.Flags().StringVar(&endDate, "end", "", "last creation day, inclusive (YYYY-MM-DD)")
	extractCmd.Flags().StringVar(&resumeRunID, "resume", "", "skip days that are COMPLETE in this run")
	extractCmd.Flags().StringVar(&filtersFile, "filters", "", "TOML file with the search predicates")
	extractCmd.Flags().BoolVar(&discardPartial, "discard-partial", false, "drop records of FAILED partitions")
	extractCmd.Flags().IntVar(&abortAfter, "abort-after", -1, "abort after this many consecutive FAILED partitions (0 never aborts)")

	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to list")

	auditCmd.Flags().StringVar(&auditFile, "file", "", "read the JSONL audit file instead of storage")
	auditCmd.Flags().BoolVar(&auditRedis, "redis", false, "read the audit log from REDIS_URL instead of storage")
	auditCmd.Flags().StringVar(&auditStatus, "status", "", "only show partitions with this status")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(reportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errAtRisk) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and sets up logging
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	_, closer, err := logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
		Dir:    cfg.LogDir,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, func() { _ = closer.Close() }, nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, cleanup, err := loadConfig()
	if err != nil {
		return err
	}
	defer cleanup()

	if filtersFile != "" {
		cfg.FiltersFile = filtersFile
	}
	if discardPartial {
		cfg.DiscardPartial = true
	}
	if abortAfter >= 0 {
		cfg.AbortAfterFailures = abortAfter
	}

	store, err := runner.OpenStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := runner.New(cfg, store)
	if err != nil {
		return fmt.Errorf("failed to initialize runner: %w", err)
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := r.Run(ctx, runner.Request{
		StartDate:   startDate,
		EndDate:     endDate,
		ResumeRunID: resumeRunID,
	})
	if out == nil {
		return err
	}
	if err != nil {
		log.Warn().Err(err).Str("run_id", out.Run.ID).Msg("Run stopped early")
	}

	report, rerr := aggregator.NewAggregator(store).RunReport(context.Background(), out.Run.ID)
	if rerr != nil {
		return rerr
	}
	if perr := printReport(report); perr != nil {
		return perr
	}

	if err != nil {
		return err
	}
	if !report.Trustworthy {
		return errAtRisk
	}
	return nil
}

func runListRuns(cmd *cobra.Command, args []string) error {
	var runs []*domain.ExtractionRun

	if remote {
		cfg, err := config.LoadFile(cfgFile)
		if err != nil {
			return err
		}
		if runs, err = client.NewClient(cfg.APIEndpoint).ListRuns(runsLimit); err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
	} else {
		cfg, cleanup, err := loadConfig()
		if err != nil {
			return err
		}
		defer cleanup()

		store, err := runner.OpenStorage(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if runs, err = aggregator.NewAggregator(store).ListRuns(context.Background(), runsLimit); err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
	}

	if outputJSON {
		return printJSON(runs)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Run", "Range", "Status", "Resumed Of", "Created"})
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			r.StartDate.Format(domain.DateLayout) + ".." + r.EndDate.Format(domain.DateLayout),
			string(r.Status),
			r.ResumedOf,
			r.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()

	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	runID := args[0]

	audits, err := loadAudits(runID)
	if err != nil {
		return err
	}

	if auditStatus != "" {
		filtered := audits[:0]
		for _, a := range audits {
			if string(a.Status) == auditStatus {
				filtered = append(filtered, a)
			}
		}
		audits = filtered
	}

	if outputJSON {
		return printJSON(audits)
	}

	fmt.Printf("\nPartition Audit: %s\n\n", runID)
	printAudits(audits)
	fmt.Printf("\n%s\n", domain.SummarizeAudits(audits))

	return nil
}

func loadAudits(runID string) ([]domain.PartitionAudit, error) {
	switch {
	case auditFile != "":
		return auditlog.ReadAuditFile(auditFile, runID)

	case remote:
		cfg, err := config.LoadFile(cfgFile)
		if err != nil {
			return nil, err
		}
		return client.NewClient(cfg.APIEndpoint).GetAudits(runID, "")

	case auditRedis:
		cfg, err := config.LoadFile(cfgFile)
		if err != nil {
			return nil, err
		}
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is not set")
		}
		rdb, err := auditlog.DialRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		sink := auditlog.NewRedisSink(rdb)
		defer sink.Close()
		audits, err := sink.Audits(context.Background(), runID)
		if err != nil {
			return nil, err
		}
		counts, err := sink.StatusCounts(context.Background(), runID)
		if err != nil {
			return nil, err
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		if total != len(audits) {
			log.Warn().Int("audits", len(audits)).Int("counted", total).Msg("Redis audit list and status counters disagree")
		}
		return audits, nil

	default:
		cfg, cleanup, err := loadConfig()
		if err != nil {
			return nil, err
		}
		defer cleanup()

		store, err := runner.OpenStorage(cfg)
		if err != nil {
			return nil, err
		}
		defer store.Close()

		return aggregator.NewAggregator(store).GetAudits(context.Background(), runID)
	}
}

func runReport(cmd *cobra.Command, args []string) error {
	runID := args[0]

	var report *domain.RunReport
	if remote {
		cfg, err := config.LoadFile(cfgFile)
		if err != nil {
			return err
		}
		if report, err = client.NewClient(cfg.APIEndpoint).GetReport(runID); err != nil {
			return fmt.Errorf("failed to get report: %w", err)
		}
	} else {
		cfg, cleanup, err := loadConfig()
		if err != nil {
			return err
		}
		defer cleanup()

		store, err := runner.OpenStorage(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if report, err = aggregator.NewAggregator(store).RunReport(context.Background(), runID); err != nil {
			return fmt.Errorf("failed to get report: %w", err)
		}
	}

	if err := printReport(report); err != nil {
		return err
	}
	if !report.Trustworthy {
		return errAtRisk
	}
	return nil
}

func printReport(report *domain.RunReport) error {
	if outputJSON {
		return printJSON(report)
	}

	run := report.Run
	fmt.Printf("\nRun: %s (%s)\n", run.ID, run.Status)
	fmt.Printf("Range: %s to %s\n", run.StartDate.Format(domain.DateLayout), run.EndDate.Format(domain.DateLayout))
	fmt.Printf("Filters: %s\n\n", run.Filters)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Partitions", strconv.Itoa(report.Summary.Partitions)})
	table.Append([]string{"Complete", strconv.Itoa(report.Summary.Complete)})
	table.Append([]string{"Truncated", strconv.Itoa(report.Summary.Truncated)})
	table.Append([]string{"Failed", strconv.Itoa(report.Summary.Failed)})
	table.Append([]string{"Skipped", strconv.Itoa(report.Summary.Skipped)})
	table.Append([]string{"Unaudited", strconv.Itoa(len(report.Unaudited))})
	table.Append([]string{"Reported", strconv.Itoa(report.Summary.ReportedTotal)})
	table.Append([]string{"Retrieved", strconv.Itoa(report.Summary.Retrieved)})
	table.Append([]string{"Persisted", strconv.Itoa(report.Persisted)})
	table.Render()

	var atRisk []domain.PartitionReport
	for _, p := range report.Partitions {
		if p.Status != domain.AuditStatusComplete {
			atRisk = append(atRisk, p)
		}
	}
	if len(atRisk) > 0 {
		fmt.Printf("\nPartitions at risk\n\n")
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Partition", "Status", "Reported", "Retrieved", "Missing", "Error"})
		for _, p := range atRisk {
			table.Append([]string{
				p.Partition,
				string(p.Status),
				strconv.Itoa(p.ReportedTotal),
				strconv.Itoa(p.Retrieved),
				strconv.Itoa(p.Missing),
				p.Error,
			})
		}
		table.Render()
	}

	if report.Trustworthy {
		fmt.Println("\nDataset is complete.")
	} else {
		fmt.Printf("\nDataset is NOT complete: %s\n", report.Summary)
	}
	return nil
}

func printAudits(audits []domain.PartitionAudit) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Partition", "Status", "Reported", "Retrieved", "Pages", "Missing", "Error"})
	for _, a := range audits {
		table.Append([]string{
			a.Partition,
			string(a.Status),
			strconv.Itoa(a.ReportedTotal),
			strconv.Itoa(a.Retrieved),
			strconv.Itoa(a.Pages),
			strconv.Itoa(a.Missing()),
			a.Error,
		})
	}
	table.Render()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
