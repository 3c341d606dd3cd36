package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ckb/internal/backends/lsp"
	"ckb/internal/broker"
	"ckb/internal/checkpoint"
	"ckb/internal/codegraph"
	"ckb/internal/config"
	"ckb/internal/graphstore"
	"ckb/internal/jobregistry"
	"ckb/internal/logging"
	"ckb/internal/orchestrator"
	"ckb/internal/wsapi"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	serveAddr       string
	analyzerKindArg string
	statusFormat    string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run and serve the code knowledge graph ingestion pipeline",
}

var analyzeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a one-shot analysis of the repository and wait for completion",
	RunE:  runAnalyzeStart,
}

var analyzeServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis websocket protocol (start_analysis/subscribe/cancel) over HTTP",
	RunE:  runAnalyzeServe,
}

var analyzeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the status of jobs known to this repository's job registry",
	RunE:  runAnalyzeStatus,
}

func init() {
	analyzeCmd.PersistentFlags().StringVar(&analyzerKindArg, "analyzer", "codebase_analysis", "analyzer kind to run")
	analyzeServeCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8765", "address to listen on")
	analyzeStatusCmd.Flags().StringVar(&statusFormat, "format", "human", "output format: human or yaml")
	analyzeCmd.AddCommand(analyzeStartCmd, analyzeServeCmd, analyzeStatusCmd)
	rootCmd.AddCommand(analyzeCmd)
}

// analysisStack bundles every §4 component cmd/ckb wires together, so
// start/serve/status share one construction path instead of drifting.
type analysisStack struct {
	db           *sql.DB
	cfg          *config.Config
	logger       *logging.Logger
	supervisor   *lsp.LspSupervisor
	store        *graphstore.Store
	checkpointer *checkpoint.Manager
	br           *broker.Broker
	registry     *jobregistry.Registry
	orch         *orchestrator.Orchestrator
}

func buildAnalysisStack(repoRoot string) (*analysisStack, error) {
	logger := newLogger()

	cfg, err := config.LoadConfig(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.RepoRoot = repoRoot
	if err := cfg.LoadLspServerSpecs(repoRoot); err != nil {
		return nil, fmt.Errorf("load lsp server specs: %w", err)
	}

	db, err := openGraphDB(repoRoot)
	if err != nil {
		return nil, err
	}

	store, err := graphstore.Open(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open graph store: %w", err)
	}
	chk, err := checkpoint.NewManager(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open checkpoint manager: %w", err)
	}

	ringSize := cfg.Analysis.BrokerRingSize
	subBuf := cfg.Analysis.SubscriberBuffer
	if ringSize <= 0 {
		ringSize = 256
	}
	if subBuf <= 0 {
		subBuf = 64
	}
	br := broker.New(ringSize, subBuf)
	registry := jobregistry.New()
	supervisor := lsp.NewLspSupervisor(cfg, logger)

	orch := orchestrator.New(cfg, logger, supervisor, store, chk, br, registry)

	return &analysisStack{
		db:           db,
		cfg:          cfg,
		logger:       logger,
		supervisor:   supervisor,
		store:        store,
		checkpointer: chk,
		br:           br,
		registry:     registry,
		orch:         orch,
	}, nil
}

func (s *analysisStack) Close() {
	_ = s.supervisor.Shutdown()
	_ = s.db.Close()
}

func runAnalyzeStart(cmd *cobra.Command, args []string) error {
	stack, err := buildAnalysisStack(repoRootFlag)
	if err != nil {
		return err
	}
	defer stack.Close()

	project, err := resolveProject(repoRootFlag)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}

	jobID, alreadyActive, err := stack.orch.StartAnalysis(project, analyzerKindArg)
	if err != nil {
		return fmt.Errorf("start analysis: %w", err)
	}
	if alreadyActive {
		fmt.Printf("analysis already running for %s: job %s\n", project.Name, jobID)
	} else {
		fmt.Printf("started analysis of %s: job %s\n", project.Name, jobID)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sigs:
			return stack.orch.Cancel(jobID)
		case <-ticker.C:
			job, err := stack.registry.Get(jobID)
			if err != nil {
				return fmt.Errorf("lost track of job %s: %w", jobID, err)
			}
			fmt.Printf("\r%s pass=%s processed=%d/%d", job.Status, job.Pass, job.Statistics.ProcessedFiles, job.Statistics.TotalFiles)
			if job.IsTerminal() {
				fmt.Println()
				if job.Status == codegraph.JobFailed {
					return fmt.Errorf("analysis failed: %s", job.Error)
				}
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func runAnalyzeServe(cmd *cobra.Command, args []string) error {
	stack, err := buildAnalysisStack(repoRootFlag)
	if err != nil {
		return err
	}
	defer stack.Close()

	lookup := func(projectID string) (codegraph.Project, error) {
		return resolveProject(repoRootFlag)
	}
	handler := wsapi.NewHandler(stack.orch, lookup, stack.store, wsapiLogger())
	server := wsapi.NewServer(handler, 10*time.Second, func(r *http.Request) bool { return true }, wsapiLogger())

	mux := http.NewServeMux()
	mux.Handle("/analysis", server)

	httpServer := &http.Server{Addr: serveAddr, Handler: mux}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		stack.logger.Info("ckb analyze serve listening", map[string]interface{}{"addr": serveAddr})
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// statusEntry is the YAML-serializable view of one job, independent of
// jobregistry.Job's internal field layout.
type statusEntry struct {
	JobID      string `yaml:"job_id"`
	Status     string `yaml:"status"`
	Pass       string `yaml:"pass"`
	Processed  int    `yaml:"processed_files"`
	TotalFiles int    `yaml:"total_files"`
	Error      string `yaml:"error,omitempty"`
}

func runAnalyzeStatus(cmd *cobra.Command, args []string) error {
	stack, err := buildAnalysisStack(repoRootFlag)
	if err != nil {
		return err
	}
	defer stack.Close()

	project, err := resolveProject(repoRootFlag)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}

	jobs := stack.registry.ListByProject(project.ProjectID)
	if len(jobs) == 0 {
		if statusFormat == "yaml" {
			fmt.Println("jobs: []")
			return nil
		}
		fmt.Println("no jobs recorded for this repository")
		return nil
	}

	if statusFormat == "yaml" {
		entries := make([]statusEntry, len(jobs))
		for i, job := range jobs {
			entries[i] = statusEntry{
				JobID:      job.ID,
				Status:     string(job.Status),
				Pass:       string(job.Pass),
				Processed:  job.Statistics.ProcessedFiles,
				TotalFiles: job.Statistics.TotalFiles,
				Error:      job.Statistics.Error,
			}
		}
		out, err := yaml.Marshal(map[string]interface{}{"jobs": entries})
		if err != nil {
			return fmt.Errorf("marshal status as yaml: %w", err)
		}
		fmt.Print(string(out))
		return nil
	}

	for _, job := range jobs {
		fmt.Printf("%s  status=%s  pass=%s  processed=%d/%d  error=%q\n",
			job.ID, job.Status, job.Pass, job.Statistics.ProcessedFiles, job.Statistics.TotalFiles, job.Statistics.Error)
	}
	return nil
}
