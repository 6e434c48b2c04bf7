package conflict

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/heremaps/xyz-hub-sub023/core/composite"
	"github.com/heremaps/xyz-hub-sub023/core/differ"
	hubErrors "github.com/heremaps/xyz-hub-sub023/core/errors"
	"github.com/heremaps/xyz-hub-sub023/core/feature"
	"github.com/heremaps/xyz-hub-sub023/core/history"
	"github.com/heremaps/xyz-hub-sub023/core/write"
)

// Spaces supplies space descriptors and the permission for writes that go
// directly to a base space.
type Spaces interface {
	composite.SpaceProvider
	AllowSuperWrite(baseSpaceID string) bool
}

type Config struct {
	Logger *slog.Logger

	// Parallelism bounds how many distinct feature ids of one batch are
	// processed at once. Zero uses GOMAXPROCS.
	Parallelism int

	// WriteTimeout bounds the storage calls of one intent. Zero disables it.
	WriteTimeout time.Duration
}

// Engine applies write batches. It holds no per-batch state and is safe for
// concurrent use; lost-update protection comes from the store's
// compare-and-swap on the head version.
type Engine struct {
	spaces       Spaces
	store        *history.Store
	resolver     *composite.Resolver
	logger       *slog.Logger
	parallelism  int
	writeTimeout time.Duration
}

func NewEngine(spaces Spaces, store *history.Store, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		spaces:       spaces,
		store:        store,
		resolver:     composite.NewResolver(spaces, store),
		logger:       logger,
		parallelism:  parallelism,
		writeTimeout: cfg.WriteTimeout,
	}
}

func (e *Engine) Resolver() *composite.Resolver {
	return e.resolver
}

// Apply runs every intent of batch and reports one result per intent in
// input order. Intents for the same feature id run in order, each observing
// the writes of the ones before it; distinct ids run concurrently. The
// returned error is only set when the batch itself is unusable.
func (e *Engine) Apply(ctx context.Context, batch write.Batch) (write.BatchResult, error) {
	if err := batch.Validate(); err != nil {
		return write.BatchResult{}, err
	}
	space, err := e.spaces.Space(batch.SpaceID)
	if err != nil {
		return write.BatchResult{}, hubErrors.Wrap(hubErrors.KindIllegalArgument, "batch space "+batch.SpaceID, err)
	}
	space = space.Normalized()

	batchID := batch.ID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	ctx, span := tracer.Start(ctx, "conflict.Engine.Apply",
		trace.WithAttributes(
			attribute.String("batch_id", batchID),
			attribute.String("space", space.ID),
			attribute.Int("intents", len(batch.Intents)),
		),
	)
	defer span.End()
	batchSize.Observe(float64(len(batch.Intents)))

	results := make([]write.IntentResult, len(batch.Intents))
	var g errgroup.Group
	g.SetLimit(e.parallelism)
	for _, group := range groupByFeature(batch.Intents) {
		group := group
		g.Go(func() error {
			for _, idx := range group {
				results[idx] = e.applyIntent(ctx, batchID, space, idx, batch.Intents[idx])
			}
			return nil
		})
	}
	_ = g.Wait()

	out := write.BatchResult{BatchID: batchID, SpaceID: space.ID, Results: results}
	counts := out.Counts()
	span.SetAttributes(
		attribute.Int("written", counts[write.OutcomeWritten]),
		attribute.Int("storage_failures", counts[write.OutcomeStorageFailure]),
	)
	span.SetStatus(codes.Ok, "batch applied")
	e.logger.Info("batch applied",
		"batch", batchID,
		"space", space.ID,
		"intents", len(results),
		"written", counts[write.OutcomeWritten],
		"retained", counts[write.OutcomeRetained])
	return out, nil
}

// groupByFeature returns intent indexes grouped by feature id, groups in
// order of first appearance and indexes ascending within a group.
func groupByFeature(intents []write.Intent) [][]int {
	pos := make(map[string]int)
	var groups [][]int
	for i, in := range intents {
		g, ok := pos[in.FeatureID]
		if !ok {
			g = len(groups)
			pos[in.FeatureID] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}

func (e *Engine) applyIntent(ctx context.Context, batchID string, space feature.Space, idx int, in write.Intent) write.IntentResult {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "conflict.Engine.applyIntent",
		trace.WithAttributes(
			attribute.String("batch_id", batchID),
			attribute.String("feature_id", in.FeatureID),
			attribute.String("space_context", in.SpaceContext.String()),
			attribute.Int("index", idx),
		),
	)
	defer span.End()

	if e.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.writeTimeout)
		defer cancel()
	}

	res := e.evaluate(ctx, space, in)
	res.Index = idx
	res.FeatureID = in.FeatureID

	outcome := res.Outcome.String()
	intentOutcomes.WithLabelValues(outcome).Inc()
	intentDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("outcome", outcome))

	switch res.Outcome {
	case write.OutcomeWritten:
		tableEffects.WithLabelValues(res.Effect.String()).Inc()
		span.SetAttributes(
			attribute.Int64("version", res.Version),
			attribute.String("effect", res.Effect.String()),
		)
		span.SetStatus(codes.Ok, "written")
	case write.OutcomeStorageFailure, write.OutcomeInvariantViolation:
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, outcome)
		e.logger.Warn("intent failed",
			"batch", batchID,
			"space", space.ID,
			"feature", in.FeatureID,
			"outcome", outcome,
			"error", res.Err)
	default:
		span.SetStatus(codes.Ok, outcome)
	}

	e.logger.Debug("intent applied",
		"batch", batchID,
		"space", space.ID,
		"feature", in.FeatureID,
		"outcome", outcome,
		"version", res.Version,
		"effect", res.Effect.String())
	return res
}

func (e *Engine) evaluate(ctx context.Context, space feature.Space, in write.Intent) write.IntentResult {
	if err := in.Validate(); err != nil {
		return write.Failure(err)
	}
	if in.SpaceContext == feature.ContextSuper && space.IsComposite() && !e.spaces.AllowSuperWrite(space.Extends) {
		return write.Failure(hubErrors.IllegalArgument("writes to base space %q through %q are not permitted", space.Extends, space.ID))
	}

	vis, err := e.resolver.Resolve(ctx, space.ID, in.FeatureID, in.SpaceContext)
	if err != nil {
		return write.Failure(err)
	}

	situation := Situation{
		Exists:          vis.State.Exists(),
		VersionConflict: vis.State.Exists() && in.BaseVersion != nil && *in.BaseVersion != vis.Version(),
		Deletion:        in.IsDeletion(),
	}
	d := Decide(situation, in.Policies)
	e.logger.Debug("intent decided",
		"space", space.ID,
		"feature", in.FeatureID,
		"state", vis.State.String(),
		"version_conflict", situation.VersionConflict,
		"action", d.Action.String())

	return e.execute(ctx, vis, in, d)
}

func (e *Engine) execute(ctx context.Context, vis composite.Visible, in write.Intent, d Decision) write.IntentResult {
	switch d.Action {
	case ActionFail:
		if d.Outcome == write.OutcomeIllegalArgument {
			return write.Failure(hubErrors.IllegalArgument("%s", d.Reason))
		}
		return write.PolicyResult(d.Outcome, d.Reason)
	case ActionRetain:
		return write.IntentResult{Outcome: write.OutcomeRetained, Effect: history.EffectNone, Version: vis.Version()}
	case ActionCreate, ActionReplace:
		return e.persist(ctx, vis, in, in.Feature, false)
	case ActionDelete:
		return e.persist(ctx, vis, in, vis.Feature, true)
	case ActionPatch:
		return e.persist(ctx, vis, in, differ.Patch(vis.Feature, in.Feature, in.RemoveGeometry), false)
	case ActionMerge:
		r := differ.Diff(vis.Feature, vis.Feature, in.Feature)
		return e.persist(ctx, vis, in, r.Merged, false)
	case ActionMergeWithBase:
		return e.mergeWithBase(ctx, vis, in)
	default:
		return write.Failure(hubErrors.InvariantViolation("no handler for action %s", d.Action))
	}
}

func (e *Engine) mergeWithBase(ctx context.Context, vis composite.Visible, in write.Intent) write.IntentResult {
	base, err := e.store.ReadVersion(ctx, vis.Location, in.FeatureID, *in.BaseVersion)
	if err != nil {
		return write.Failure(err)
	}
	if base == nil {
		return write.Failure(hubErrors.Wrap(hubErrors.KindInvariantViolation,
			"merge base "+vis.Location+"/"+in.FeatureID, history.ErrSnapshotMissing))
	}

	r := differ.Diff(base, vis.Feature, in.Feature)
	if r.Clean() {
		return e.persist(ctx, vis, in, r.Merged, false)
	}

	d := DecideMergeConflict(in.OnMergeConflict)
	mergeConflicts.WithLabelValues(d.Action.String()).Inc()
	switch d.Action {
	case ActionReplace:
		preferred := differ.New(differ.ModePreferInput).Diff(base, vis.Feature, in.Feature)
		res := e.persist(ctx, vis, in, preferred.Merged, false)
		res.ConflictingPaths = preferred.Conflicts
		return res
	case ActionFail:
		res := e.execute(ctx, vis, in, d)
		res.ConflictingPaths = r.Conflicts
		return res
	default:
		return e.execute(ctx, vis, in, d)
	}
}

func (e *Engine) persist(ctx context.Context, vis composite.Visible, in write.Intent, content *feature.Feature, tombstone bool) write.IntentResult {
	w, err := e.store.Write(ctx, history.WriteOp{
		Target:    vis.Target,
		FeatureID: in.FeatureID,
		Content:   content,
		Tombstone: tombstone,
		Prior:     vis.OwnHead,
		Author:    in.Author,
	})
	if err != nil {
		return write.Failure(err)
	}
	return write.IntentResult{
		Outcome: write.OutcomeWritten,
		Version: w.Version,
		Effect:  w.Effect,
		Feature: w.Feature,
	}
}
