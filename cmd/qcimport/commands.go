package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
	"github.com/kirillkom/qc-inspection/internal/core/usecase"
	"github.com/kirillkom/qc-inspection/internal/infrastructure/background"
	"github.com/kirillkom/qc-inspection/internal/infrastructure/chunking"
	"github.com/kirillkom/qc-inspection/internal/infrastructure/spreadsheet"
	"github.com/kirillkom/qc-inspection/internal/infrastructure/uploadclient"
)

const maxPrintedRowErrors = 20

func newValidateCmd(c *cli) *cobra.Command {
	var compact bool
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a workbook without importing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return c.runValidate(ctx, args[0], compact)
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "Apply the compact (mobile) size limits")
	return cmd
}

func newParseCmd(c *cli) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse a workbook and print the rows or a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out != "json" && out != "summary" {
				return codeError(exitUsage, "--out must be json or summary, got %q", out)
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return c.runParse(ctx, args[0], out)
		},
	}
	cmd.Flags().StringVar(&out, "out", "summary", "Output format: json or summary")
	return cmd
}

func newUploadCmd(c *cli) *cobra.Command {
	var compact bool
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Validate and parse locally, then upload the rows to the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return c.runUpload(ctx, args[0], compact)
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "Apply the compact (mobile) size limits")
	return cmd
}

func newSubmitCmd(c *cli) *cobra.Command {
	var (
		compact bool
		follow  bool
	)
	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Send the raw workbook for server-side import",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return c.runSubmit(ctx, args[0], compact, follow)
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "Use the compact import endpoint")
	cmd.Flags().BoolVar(&follow, "follow", false, "Poll the session until the import finishes")
	return cmd
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status <upload-id>",
		Short: "Print the state of an upload session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := c.client().GetUpload(cmd.Context(), args[0])
			if err != nil {
				return codeError(exitFailure, "%s", err)
			}
			return c.printJSON(session)
		},
	}
}

func (c *cli) runValidate(ctx context.Context, path string, compact bool) error {
	file, err := readWorkbook(path)
	if err != nil {
		return err
	}
	worker, err := c.startWorker(ctx, compact)
	if err != nil {
		return err
	}
	defer worker.Close()

	result, err := worker.Validate(ctx, file, c.progress)
	if err != nil {
		return codeError(exitFailure, "validate %s: %s", file.Name, err)
	}
	if err := c.printJSON(result); err != nil {
		return err
	}
	if !result.IsValid {
		return codeError(exitRejected, "%s is not importable", file.Name)
	}
	return nil
}

func (c *cli) runParse(ctx context.Context, path, out string) error {
	file, err := readWorkbook(path)
	if err != nil {
		return err
	}
	worker, err := c.startWorker(ctx, false)
	if err != nil {
		return err
	}
	defer worker.Close()

	parsed, err := worker.Parse(ctx, file, c.progress)
	if err != nil {
		return codeError(exitFailure, "parse %s: %s", file.Name, err)
	}
	if out == "json" {
		return c.printJSON(parsed)
	}

	chunks, err := worker.Chunk(ctx, parsed.Data, 0)
	if err != nil {
		return codeError(exitFailure, "plan chunks: %s", err)
	}
	c.printSummary(file.Name, parsed, chunks)
	return nil
}

func (c *cli) runUpload(ctx context.Context, path string, compact bool) error {
	file, err := readWorkbook(path)
	if err != nil {
		return err
	}
	worker, err := c.startWorker(ctx, compact)
	if err != nil {
		return err
	}
	defer worker.Close()

	validation, err := worker.Validate(ctx, file, c.progress)
	if err != nil {
		return codeError(exitFailure, "validate %s: %s", file.Name, err)
	}
	if !validation.IsValid {
		_ = c.printJSON(validation)
		return codeError(exitRejected, "%s is not importable", file.Name)
	}

	parsed, err := worker.Parse(ctx, file, c.progress)
	if err != nil {
		return codeError(exitFailure, "parse %s: %s", file.Name, err)
	}
	if len(parsed.Data) == 0 {
		return codeError(exitRejected, "%s has no importable rows", file.Name)
	}

	coordinator := usecase.NewUploadCoordinator(c.client(), usecase.UploadConfig{
		SingleShotThreshold: c.cfg.Upload.SingleShotThreshold,
		MaxRetries:          c.cfg.Upload.MaxRetries,
		RetryBaseDelay:      c.cfg.Upload.RetryDelay,
		Plan:                chunking.DefaultPlan(),
		CancelTimeout:       c.cfg.Upload.CancelTimeout,
	})
	result, err := coordinator.Import(ctx, parsed.Data, file.Name, file.Size, func(p domain.UploadProgress) {
		c.progress(p.Progress, p.Message)
	})
	if result != nil {
		if printErr := c.printJSON(result); printErr != nil {
			return printErr
		}
	}
	if err != nil {
		return codeError(exitRejected, "upload %s: %s", file.Name, err)
	}
	return nil
}

func (c *cli) runSubmit(ctx context.Context, path string, compact, follow bool) error {
	file, err := readWorkbook(path)
	if err != nil {
		return err
	}
	mode := domain.ImportModeStandard
	if compact {
		mode = domain.ImportModeCompact
	}

	client := c.client()
	session, err := client.SubmitFile(ctx, mode, file.Name, file.Content)
	if err != nil {
		return codeError(exitRejected, "submit %s: %s", file.Name, err)
	}
	if follow {
		session, err = c.follow(ctx, client, session)
		if err != nil {
			return codeError(exitFailure, "follow %s: %s", session.ID, err)
		}
	}
	if err := c.printJSON(session); err != nil {
		return err
	}
	if session.Status == domain.SessionFailed || session.Status == domain.SessionExpired {
		return codeError(exitRejected, "import %s ended with status %s", session.ID, session.Status)
	}
	return nil
}

// follow polls the session until its stage is final.
func (c *cli) follow(ctx context.Context, client *uploadclient.Client, session *domain.UploadSession) (*domain.UploadSession, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := -1
	for !session.Stage.Final() && !session.Status.Terminal() {
		select {
		case <-ctx.Done():
			return session, ctx.Err()
		case <-ticker.C:
		}
		next, err := client.GetUpload(ctx, session.ID)
		if err != nil {
			return session, err
		}
		session = next
		if session.Progress != last {
			last = session.Progress
			c.progress(session.Progress, string(session.Stage)+" "+session.Message)
		}
	}
	return session, nil
}

func (c *cli) startWorker(ctx context.Context, compact bool) (*background.Worker, error) {
	limits := usecase.StandardLimits()
	if compact {
		limits = usecase.CompactLimits()
	}
	opener := spreadsheet.NewOpener()
	worker := background.NewWorker(
		usecase.NewFileValidator(opener, limits),
		usecase.NewOrderParser(opener),
		chunking.DefaultPlan(),
	)
	if err := worker.WaitReady(ctx); err != nil {
		worker.Close()
		return nil, codeError(exitFailure, "start background worker: %s", err)
	}
	return worker, nil
}

func (c *cli) client() *uploadclient.Client {
	return uploadclient.New(c.cfg.Server, uploadclient.Options{
		Timeout:   c.cfg.Timeout,
		UserAgent: c.cfg.UserAgent + "/" + version,
	})
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return codeError(exitFailure, "write output: %s", err)
	}
	return nil
}

func (c *cli) printSummary(name string, parsed *domain.ParseResult, chunks [][]domain.OrderRow) {
	s := parsed.Summary
	fmt.Fprintf(c.stdout, "file:    %s\n", name)
	fmt.Fprintf(c.stdout, "rows:    %d total, %d valid, %d invalid\n", s.Total, s.Valid, s.Invalid)
	chunkSize := 0
	if len(chunks) > 0 {
		chunkSize = len(chunks[0])
	}
	fmt.Fprintf(c.stdout, "chunks:  %d of up to %d rows\n", len(chunks), chunkSize)
	for _, w := range s.Warnings {
		fmt.Fprintf(c.stdout, "warning: %s\n", w)
	}
	for i, e := range s.Errors {
		if i == maxPrintedRowErrors {
			fmt.Fprintf(c.stdout, "... %d more row errors\n", len(s.Errors)-i)
			break
		}
		fmt.Fprintf(c.stdout, "row %d: %s\n", e.Row, e.Message)
	}
}

func readWorkbook(path string) (domain.SpreadsheetFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return domain.SpreadsheetFile{}, codeError(exitUsage, "read %s: %s", path, err)
	}
	return domain.SpreadsheetFile{
		Name:    filepath.Base(path),
		Size:    int64(len(content)),
		Content: content,
	}, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
