package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appuploads "github.com/bryanwahyu/xray-analyzer/internal/application/uploads"
	"github.com/bryanwahyu/xray-analyzer/internal/domain/analysis"
	domain "github.com/bryanwahyu/xray-analyzer/internal/domain/uploads"
	"github.com/bryanwahyu/xray-analyzer/internal/infra/predict"
	"github.com/bryanwahyu/xray-analyzer/internal/infra/storage"
	"github.com/bryanwahyu/xray-analyzer/internal/logging"
)

type analyzeOptions struct {
	endpoint string
	field    string
	timeout  time.Duration
	asJSON   bool
	verbose  bool
}

func newRootCmd() *cobra.Command {
	opts := &analyzeOptions{}

	root := &cobra.Command{
		Use:           "xray",
		Short:         "Lung X-ray analysis client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Upload one X-ray image to the prediction service and print the result",
		Long: `Stages the file, submits it to the prediction endpoint as multipart/form-data
and prints the normalized result: primary label, confidence, description and
the per-condition percentages sorted highest first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], opts)
		},
	}
	analyzeCmd.Flags().StringVar(&opts.endpoint, "endpoint", envOr("XRAY_ENDPOINT", "http://localhost:5000/api/predict"), "Prediction endpoint URL (or set XRAY_ENDPOINT)")
	analyzeCmd.Flags().StringVar(&opts.field, "field", predict.DefaultFieldName, "Multipart field name for the file")
	analyzeCmd.Flags().DurationVar(&opts.timeout, "timeout", appuploads.DefaultTimeout, "Request timeout")
	analyzeCmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the result as JSON")

	root.AddCommand(analyzeCmd)
	return root
}

func runAnalyze(ctx context.Context, stdout, stderr io.Writer, path string, opts *analyzeOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	logger := zap.NewNop()
	if opts.verbose {
		logger, err = logging.New(zapcore.DebugLevel.String(), true)
		if err != nil {
			return err
		}
		defer logger.Sync()
	}

	ctrl := appuploads.NewController("cli", "", appuploads.Deps{
		Predictor: &progressPrinter{
			next: predict.NewClient(opts.endpoint, opts.field, logger),
			out:  stderr,
			json: opts.asJSON,
		},
		Previews: storage.NewMemory(""),
		Timeout:  opts.timeout,
		Logger:   logger,
	})
	defer ctrl.Close(context.WithoutCancel(ctx))

	file := domain.File{
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
		Data:        data,
	}
	if err := ctrl.SelectFile(ctx, file); err != nil {
		return err
	}
	ctrl.Submit(ctx)

	s := ctrl.Snapshot()
	if s.Status != domain.StatusDone || s.Result == nil {
		return fmt.Errorf("%s", s.Error)
	}
	if opts.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s.Result)
	}
	printResult(stdout, *s.Result)
	return nil
}

func printResult(w io.Writer, r analysis.AnalysisResult) {
	fmt.Fprintf(w, "%s (%d%%)\n", r.PrimaryLabel, r.ConfidencePercent)
	fmt.Fprintln(w, r.Description)
	if len(r.Conditions) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, c := range r.Conditions {
		fmt.Fprintf(w, "  %-24s %3d%%\n", c.Label, c.Percentage)
	}
}

// progressPrinter draws upload progress on stderr
type progressPrinter struct {
	next domain.Predictor
	out  io.Writer
	json bool
}

func (p *progressPrinter) Predict(ctx context.Context, f domain.File, progress domain.ProgressFunc) ([]byte, error) {
	if p.json {
		return p.next.Predict(ctx, f, progress)
	}
	body, err := p.next.Predict(ctx, f, func(pct int) {
		progress(pct)
		fmt.Fprintf(p.out, "\ruploading %s %3d%%", f.Name, pct)
	})
	fmt.Fprintln(p.out)
	return body, err
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
