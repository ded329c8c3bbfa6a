package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/feichai0017/casefolio/config"
	"github.com/feichai0017/casefolio/internal/app"
	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/internal/service/job"
	"github.com/feichai0017/casefolio/internal/store/memory"
	"github.com/feichai0017/casefolio/pkg/converters"
	"github.com/feichai0017/casefolio/pkg/logger"
)

var runCmd = &cobra.Command{
	Use:   "run <file>...",
	Short: "Process local documents and print facts, events and contradictions",
	Long: `Run pushes each file through the full pipeline in this process, using an
in-memory store. With more than one file, or with --case, the case is
reanalyzed afterwards so events and contradictions span every document.

Example:
  casefolio run intake.txt
  casefolio run er_visit.pdf followup.pdf --case-id 42 --out report.json
  casefolio run notes.txt --llm-provider openai`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("case-id", "local", "case the documents belong to")
	runCmd.Flags().String("out", "", "write the JSON report to this path instead of stdout")
	runCmd.Flags().Bool("case", false, "reanalyze the case even for a single document")
	runCmd.Flags().Duration("timeout", 10*time.Minute, "overall run timeout")
	runCmd.Flags().String("llm-provider", "", "delegate provider (openai, ollama); empty keeps LLM_PROVIDER")

	_ = viper.BindPFlag("case_id", runCmd.Flags().Lookup("case-id"))
	_ = viper.BindPFlag("out", runCmd.Flags().Lookup("out"))
	_ = viper.BindPFlag("llm.provider", runCmd.Flags().Lookup("llm-provider"))
}

// Report is the output of a local run.
type Report struct {
	Documents []*converters.ResultDocument `json:"documents"`
	Case      *converters.ResultDocument   `json:"case,omitempty"`
	Failed    []*models.ProcessingJob      `json:"failed,omitempty"`
}

type runOptions struct {
	caseID      string
	forceCase   bool
	maxFileSize int64
	llmProvider string
}

func runRun(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	forceCase, _ := cmd.Flags().GetBool("case")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	report, err := runLocal(ctx, runOptions{
		caseID:      viper.GetString("case_id"),
		forceCase:   forceCase,
		maxFileSize: config.GetPipelineConfig().MaxUploadSize,
		llmProvider: viper.GetString("llm.provider"),
	}, args, log)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if path := viper.GetString("out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := writeJSON(out, report); err != nil {
		return err
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d of %d documents failed", len(report.Failed), len(args))
	}
	return nil
}

// runLocal wires the job service to an inline queue so every job runs before Enqueue returns.
func runLocal(ctx context.Context, opts runOptions, files []string, log logger.Logger) (*Report, error) {
	if opts.llmProvider != "" {
		config.GetLLMConfig().Provider = opts.llmProvider
	}

	st := memory.New(0)
	defer st.Close()
	blobs := newMemBlobs()

	orchestrator, closePipeline, err := app.Pipeline(ctx, st, blobs, log)
	if err != nil {
		return nil, err
	}
	defer closePipeline()

	svcCfg := job.DefaultServiceConfig()
	if opts.maxFileSize > 0 {
		svcCfg.Validator.MaxFileSize = opts.maxFileSize
	}
	svc := job.NewService(st, &inlineQueue{runner: orchestrator, logger: log}, blobs, log, svcCfg)

	report := &Report{Documents: []*converters.ResultDocument{}}
	for _, path := range files {
		jobID, err := submitFile(ctx, svc, opts.caseID, path)
		if err != nil {
			return nil, err
		}
		if err := collect(ctx, svc, jobID, report, false); err != nil {
			return nil, err
		}
	}

	if opts.forceCase || len(files) > 1 {
		jobID, err := svc.Reanalyze(ctx, opts.caseID)
		if err != nil {
			return nil, err
		}
		if err := collect(ctx, svc, jobID, report, true); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func submitFile(ctx context.Context, svc job.JobProcessor, caseID, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	doc, err := svc.Upload(ctx, caseID, filepath.Base(path), f, info.Size())
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return svc.Enqueue(ctx, doc.ID)
}

func collect(ctx context.Context, svc job.JobProcessor, jobID string, report *Report, caseLevel bool) error {
	status, err := svc.GetStatus(ctx, jobID)
	if err != nil {
		return err
	}
	if status.Stage != models.StageSuccess {
		report.Failed = append(report.Failed, status)
		return nil
	}
	result, err := svc.GetResult(ctx, jobID)
	if err != nil {
		return err
	}
	if caseLevel {
		report.Case = result
	} else {
		report.Documents = append(report.Documents, result)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
