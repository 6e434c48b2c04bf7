package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/heremaps/xyz-hub-sub023/core/conflict"
	hubErrors "github.com/heremaps/xyz-hub-sub023/core/errors"
	"github.com/heremaps/xyz-hub-sub023/core/write"
)

var (
	writeSpace   string
	writeFile    string
	writeRetries int
	writeFollow  bool
)

var errBatchIncomplete = errors.New("not every intent succeeded")

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Apply a write batch",
	Long: `Apply a JSON write batch to a space and print the per-intent results.

The batch file holds {"space": "...", "intents": [...]}; --space overrides
the space named in the file. Use "-" to read the batch from stdin.

Intents that fail with a retryable storage failure (for example a lost
compare-and-swap race) are re-submitted up to --retries times. Each retry
resolves the feature again, so policies are re-evaluated against the new
state.

With --follow the input is a stream of batches, one JSON document after
another (typically one per line). Each batch is applied and reported as it
arrives until the input ends or the process is interrupted. The config file
is watched meanwhile, so space definitions and error patterns can change
between batches.

Examples:
  hub write --space buildings --file batch.json
  hub write --file - --retries 5 < batch.json
  tail -f batches.ndjson | hub write --file - --follow`,
	RunE: runWrite,
}

func init() {
	rootCmd.AddCommand(writeCmd)

	writeCmd.Flags().StringVarP(&writeSpace, "space", "s", "", "Target space id")
	writeCmd.Flags().StringVarP(&writeFile, "file", "f", "", "Batch file, or - for stdin")
	writeCmd.Flags().IntVar(&writeRetries, "retries", 0, "Retries for intents with retryable failures")
	writeCmd.Flags().BoolVar(&writeFollow, "follow", false, "Apply a stream of batches until the input ends")
	_ = writeCmd.MarkFlagRequired("file")
}

func runWrite(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if writeFollow {
		return runFollow(ctx, cmd)
	}

	batch, err := readBatch(writeFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if writeSpace != "" {
		batch.SpaceID = writeSpace
	}

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := applyWithRetries(ctx, rt.engine, batch, writeRetries)
	if err != nil {
		return err
	}

	if err := outputBatchResult(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if !result.AllSucceeded() {
		return errBatchIncomplete
	}
	return nil
}

func runFollow(ctx context.Context, cmd *cobra.Command) error {
	r, closeInput, err := openBatchInput(writeFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	defer closeInput()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	go func() {
		if err := rt.config.Watch(ctx); err != nil {
			rt.logger.Warn("config watch stopped", "error", err)
		}
	}()

	type decoded struct {
		batch write.Batch
		err   error
	}
	batches := make(chan decoded)
	go func() {
		defer close(batches)
		dec := newBatchDecoder(r)
		for {
			batch, err := decodeBatch(dec)
			select {
			case batches <- decoded{batch, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	incomplete := 0
	for {
		var next decoded
		var ok bool
		select {
		case <-ctx.Done():
			return finishFollow(incomplete)
		case next, ok = <-batches:
		}
		if !ok || errors.Is(next.err, io.EOF) {
			return finishFollow(incomplete)
		}
		if next.err != nil {
			return next.err
		}

		batch := next.batch
		if writeSpace != "" {
			batch.SpaceID = writeSpace
		}
		result, err := applyWithRetries(ctx, rt.engine, batch, writeRetries)
		if err != nil {
			// A rejected batch does not end the stream.
			fmt.Fprintf(cmd.ErrOrStderr(), "batch rejected: %v\n", err)
			incomplete++
			continue
		}
		if err := outputBatchResult(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if !result.AllSucceeded() {
			incomplete++
		}
	}
}

func finishFollow(incomplete int) error {
	if incomplete > 0 {
		return fmt.Errorf("%w: %d batches", errBatchIncomplete, incomplete)
	}
	return nil
}

func openBatchInput(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open batch: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// newBatchDecoder keeps numbers as json.Number so integer properties beyond
// 2^53 are stored exactly.
func newBatchDecoder(r io.Reader) *json.Decoder {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec
}

// decodeBatch returns io.EOF unwrapped once the input is exhausted.
func decodeBatch(dec *json.Decoder) (write.Batch, error) {
	var batch write.Batch
	if err := dec.Decode(&batch); err != nil {
		if errors.Is(err, io.EOF) {
			return write.Batch{}, io.EOF
		}
		return write.Batch{}, hubErrors.Wrap(hubErrors.KindIllegalArgument, "decode batch", err)
	}
	return batch, nil
}

func readBatch(path string, stdin io.Reader) (write.Batch, error) {
	r, closeInput, err := openBatchInput(path, stdin)
	if err != nil {
		return write.Batch{}, err
	}
	defer closeInput()

	batch, err := decodeBatch(newBatchDecoder(r))
	if errors.Is(err, io.EOF) {
		return write.Batch{}, hubErrors.Wrap(hubErrors.KindIllegalArgument, "decode batch", io.ErrUnexpectedEOF)
	}
	return batch, err
}

// applyWithRetries applies batch, then re-submits only the intents whose
// results are retryable until none are left or the retries run out. The
// returned result reports every intent at its original index.
func applyWithRetries(ctx context.Context, engine *conflict.Engine, batch write.Batch, retries int) (write.BatchResult, error) {
	policy := hubErrors.DefaultRetryPolicy()
	policy.MaxAttempts = retries
	executor := hubErrors.NewRetryExecutor(policy)

	var (
		result   write.BatchResult
		batchErr error
		pending  []int
	)
	for i := range batch.Intents {
		pending = append(pending, i)
	}

	_ = executor.Execute(ctx, func(attempt int) error {
		sub := write.Batch{ID: batch.ID, SpaceID: batch.SpaceID}
		if attempt > 0 {
			sub.ID = result.BatchID
		}
		for _, idx := range pending {
			sub.Intents = append(sub.Intents, batch.Intents[idx])
		}

		res, err := engine.Apply(ctx, sub)
		if err != nil {
			batchErr = err
			return nil
		}
		if attempt == 0 {
			result = res
		}

		var next []int
		for i, r := range res.Results {
			r.Index = pending[i]
			result.Results[r.Index] = r
			if r.Retryable {
				next = append(next, r.Index)
			}
		}
		pending = next

		if len(pending) > 0 {
			return hubErrors.New(hubErrors.KindStorageFailure, fmt.Sprintf("%d intents left after attempt %d", len(pending), attempt+1))
		}
		return nil
	})

	if batchErr != nil {
		return write.BatchResult{}, batchErr
	}
	return result, nil
}

func outputBatchResult(w io.Writer, result write.BatchResult) error {
	if outputJSON {
		return encodeJSON(w, result)
	}

	counts := result.Counts()
	fmt.Fprintf(w, "%s%sBatch %s%s %s(space %s)%s\n", colorBold, colorCyan, result.BatchID, colorReset, colorGray, result.SpaceID, colorReset)
	for _, r := range result.Results {
		color := colorGreen
		if !r.Outcome.Succeeded() {
			color = colorRed
		}
		fmt.Fprintf(w, "  %3d  %-24s %s%-20s%s", r.Index, r.FeatureID, color, r.Outcome, colorReset)
		if r.Outcome == write.OutcomeWritten {
			fmt.Fprintf(w, " v%d %s", r.Version, r.Effect)
		}
		if len(r.ConflictingPaths) > 0 {
			fmt.Fprintf(w, " %sconflicts: %v%s", colorYellow, r.ConflictingPaths, colorReset)
		}
		if r.Message != "" && !r.Outcome.Succeeded() {
			fmt.Fprintf(w, " %s%s%s", colorGray, r.Message, colorReset)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "%swritten %d, retained %d, failed %d%s\n", colorGray,
		counts[write.OutcomeWritten], counts[write.OutcomeRetained],
		len(result.Results)-counts[write.OutcomeWritten]-counts[write.OutcomeRetained], colorReset)
	return nil
}

func encodeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
