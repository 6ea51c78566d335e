package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/facefinder/internal/config"
	"github.com/example/facefinder/internal/faceservice"
	"github.com/example/facefinder/internal/logging"
	"github.com/example/facefinder/internal/screening"
)

const readConcurrency = 8

var compareCmd = &cobra.Command{
	Use:   "compare --reference <image> <candidate>...",
	Short: "Run one comparison pass over local files",
	Long: `Compare every candidate image against the reference image, in order, and
report which candidates contain the reference face.

The pass stops at the first failed comparison; candidates compared before the
failure are still reported.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)

	compareCmd.Flags().String("reference", "", "Reference image path (required)")
	compareCmd.Flags().String("backend", "", "Comparison backend: rekognition or grpc (overrides COMPARE_BACKEND)")
	compareCmd.Flags().String("log-level", "warn", "Log level")
	compareCmd.Flags().Bool("json", false, "Print results as JSON")
	compareCmd.Flags().Bool("no-progress", false, "Hide the progress bar")
	_ = compareCmd.MarkFlagRequired("reference")
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if backend := mustGetString(cmd, "backend"); backend != "" {
		cfg.Compare.Backend = backend
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	jsonOutput := mustGetBool(cmd, "json")

	logger, err := logging.NewLogger(mustGetString(cmd, "log-level"), false)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	images, err := readImages(ctx, append([]string{mustGetString(cmd, "reference")}, args...))
	if err != nil {
		return err
	}
	reference, candidates := images[0], images[1:]

	client, closeClient, err := newFaceClient(ctx, cfg.Compare, logger)
	if err != nil {
		return fmt.Errorf("face comparison backend: %w", err)
	}
	defer closeClient() //nolint:errcheck

	var observer screening.Observer = screening.NopObserver{}
	var bar *progressbar.ProgressBar
	if !jsonOutput && !mustGetBool(cmd, "no-progress") {
		bar = newCompareProgressBar(len(candidates))
		observer = progressObserver{bar: bar}
	}

	snap, err := runPass(ctx, client, logger, reference, candidates, observer, cfg.Compare.Timeout)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	if err := printResults(cmd.OutOrStdout(), args, snap, jsonOutput); err != nil {
		return err
	}
	if snap.Status == screening.StatusError {
		return fmt.Errorf("comparison failed: %s", snap.ErrorMessage)
	}
	return nil
}

// runPass loads a fresh workspace and runs one blocking pass over it.
func runPass(ctx context.Context, client faceservice.Client, logger *zap.Logger, reference []byte, candidates [][]byte, observer screening.Observer, timeout time.Duration) (screening.Snapshot, error) {
	orchestrator := screening.New(client, logger,
		screening.WithObserver(observer),
		screening.WithCompareTimeout(timeout),
	)
	orchestrator.UploadReference(reference)
	orchestrator.UploadCandidates(candidates...)

	if _, err := orchestrator.Run(ctx); err != nil {
		return screening.Snapshot{}, err
	}
	return orchestrator.Snapshot(), nil
}

// readImages loads paths concurrently, preserving order.
func readImages(ctx context.Context, paths []string) ([][]byte, error) {
	out := make([][]byte, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			out[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type progressObserver struct {
	screening.NopObserver
	bar *progressbar.ProgressBar
}

func (p progressObserver) OnCandidateCompared(context.Context, string, screening.CandidateOutcome, time.Duration) {
	_ = p.bar.Add(1)
}

func newCompareProgressBar(count int) *progressbar.ProgressBar {
	return progressbar.NewOptions(count,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Comparing faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}

type compareResult struct {
	Path       string  `json:"path"`
	Compared   bool    `json:"compared"`
	Matched    bool    `json:"matched"`
	Similarity float32 `json:"similarity,omitempty"`
}

type compareOutput struct {
	Status       screening.Status `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	MatchedCount int              `json:"matched_count"`
	Results      []compareResult  `json:"results"`
}

func printResults(w io.Writer, paths []string, snap screening.Snapshot, asJSON bool) error {
	out := compareOutput{
		Status:       snap.Status,
		ErrorMessage: snap.ErrorMessage,
		MatchedCount: snap.MatchedCount,
		Results:      make([]compareResult, 0, len(snap.Candidates)),
	}
	for _, c := range snap.Candidates {
		r := compareResult{Path: paths[c.Index]}
		if c.Result != nil {
			r.Compared = true
			r.Matched = c.Result.Matched
			r.Similarity = c.Result.BestSimilarity()
		}
		out.Results = append(out.Results, r)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, r := range out.Results {
		name := filepath.Base(r.Path)
		switch {
		case !r.Compared:
			fmt.Fprintf(w, "%-40s not compared\n", name)
		case r.Matched:
			fmt.Fprintf(w, "%-40s match (%.1f%%)\n", name, r.Similarity)
		default:
			fmt.Fprintf(w, "%-40s no match\n", name)
		}
	}
	if out.Status == screening.StatusDone {
		fmt.Fprintf(w, "\nMatched %d of %d photos\n", out.MatchedCount, len(out.Results))
	}
	return nil
}
