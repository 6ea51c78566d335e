package screening

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/facefinder/internal/faceservice"
	"github.com/example/facefinder/internal/logging"
)

const tracerName = "github.com/example/facefinder/internal/screening"

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver registers an observer for pass progress.
func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) {
		o.observer = observer
	}
}

// WithOwner tags summaries and logs with the workspace owner.
func WithOwner(owner string) Option {
	return func(o *Orchestrator) {
		o.owner = owner
	}
}

// WithCompareTimeout bounds each individual comparison call. Zero disables
// the bound.
func WithCompareTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.compareTimeout = d
	}
}

// WithTracerProvider sets where pass and comparison spans go. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		o.tracer = tp.Tracer(tracerName)
	}
}

// Orchestrator runs comparison passes over one workspace. At most one pass
// runs at a time; a second Run or Start while one is active fails with
// ErrPassInProgress. Clear cancels an active pass, and whatever that pass
// produces afterwards is discarded.
type Orchestrator struct {
	client         faceservice.Client
	logger         *zap.Logger
	observer       Observer
	tracer         trace.Tracer
	owner          string
	compareTimeout time.Duration
	newPassID      func() string

	mu     sync.Mutex
	state  State
	latest *pass
}

// New creates an orchestrator with an empty workspace.
func New(client faceservice.Client, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:    client,
		logger:    logger.Named("screening"),
		observer:  NopObserver{},
		tracer:    otel.Tracer(tracerName),
		newPassID: uuid.NewString,
		state:     NewState(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.owner != "" {
		o.logger = o.logger.With(zap.String("owner", o.owner))
	}
	return o
}

// UploadCandidates appends payloads in order and returns the indices they
// were given.
func (o *Orchestrator) UploadCandidates(payloads ...[]byte) []int {
	o.mu.Lock()
	first := len(o.state.Candidates)
	o.state = Reduce(o.state, CandidatesAdded{Payloads: payloads})
	total := len(o.state.Candidates)
	o.mu.Unlock()

	indices := make([]int, 0, len(payloads))
	for i := first; i < total; i++ {
		indices = append(indices, i)
	}
	o.logger.Debug("candidates uploaded", zap.Int("added", len(payloads)), zap.Int("total", total))
	return indices
}

// UploadReference replaces the reference image.
func (o *Orchestrator) UploadReference(payload []byte) {
	o.mu.Lock()
	o.state = Reduce(o.state, ReferenceReplaced{Payload: payload})
	o.mu.Unlock()

	o.logger.Debug("reference uploaded", zap.Int("size", len(payload)))
}

// Clear empties the workspace and cancels any active pass.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	var cancelled *pass
	if o.state.Status == StatusProcessing {
		cancelled = o.latest
	}
	o.state = Reduce(o.state, Cleared{})
	o.mu.Unlock()

	if cancelled != nil {
		cancelled.cancel()
		logging.WithOperation(o.logger, "screening.clear", cancelled.id).Info("cleared workspace during active pass")
	}
}

// Snapshot returns the current workspace for presentation.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Snapshot()
}

// State returns a copy of the current workspace state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.state
	s.Candidates = o.state.cloneCandidates(0)
	return s
}

// Candidate returns the candidate at index.
func (o *Orchestrator) Candidate(index int) (CandidateImage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if index < 0 || index >= len(o.state.Candidates) {
		return CandidateImage{}, false
	}
	return o.state.Candidates[index], true
}

// Done returns a channel closed when the most recently started pass has
// stopped, including a pass abandoned by Clear.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.latest == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return o.latest.done
}

// Run performs a pass and returns when it has stopped. Only the precondition
// failures (*ValidationError, ErrPassInProgress) are returned; comparison
// failures end up in the workspace state.
func (o *Orchestrator) Run(ctx context.Context) (string, error) {
	p, passCtx, err := o.begin(ctx)
	if err != nil {
		return "", err
	}
	o.execute(passCtx, p)
	return p.id, nil
}

// Start validates like Run, then continues the pass in the background. ctx
// bounds the lifetime of the pass, not of the call.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	p, passCtx, err := o.begin(ctx)
	if err != nil {
		return "", err
	}
	go o.execute(passCtx, p)
	return p.id, nil
}

func (o *Orchestrator) begin(ctx context.Context) (*pass, context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Status == StatusProcessing {
		return nil, nil, ErrPassInProgress
	}
	if err := validate(o.state); err != nil {
		return nil, nil, err
	}

	o.state = Reduce(o.state, PassStarted{PassID: o.newPassID()})

	passCtx, cancel := context.WithCancel(ctx)
	p := &pass{
		id:         o.state.PassID,
		generation: o.state.Generation,
		reference:  o.state.Reference,
		items:      make([]passItem, 0, len(o.state.Candidates)),
		startedAt:  time.Now(),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	for _, c := range o.state.Candidates {
		p.items = append(p.items, passItem{index: c.Index, content: c.Content})
	}
	o.latest = p
	return p, passCtx, nil
}

func (o *Orchestrator) execute(ctx context.Context, p *pass) {
	defer close(p.done)
	defer p.cancel()

	ctx, span := o.tracer.Start(ctx, "screening.pass", trace.WithAttributes(
		attribute.String("pass.id", p.id),
		attribute.Int("pass.candidates", len(p.items)),
	))
	defer span.End()

	opLogger := logging.WithOperation(o.logger, "screening.run", p.id)
	if sc := span.SpanContext(); sc.IsValid() {
		opLogger = opLogger.With(zap.String("trace_id", sc.TraceID().String()))
	}
	opLogger.Info("comparison pass started", zap.Int("candidates", len(p.items)))
	o.observer.OnPassStarted(ctx, PassInfo{PassID: p.id, Owner: o.owner, Candidates: len(p.items)})

	c := comparer{
		client:    o.client,
		tracer:    o.tracer,
		threshold: faceservice.DefaultSimilarityThreshold,
		timeout:   o.compareTimeout,
	}
	err := c.run(ctx, p, func(index int, result MatchResult, elapsed time.Duration) bool {
		if !o.apply(p.generation, ResultRecorded{Generation: p.generation, Index: index, Result: result}) {
			return false
		}
		outcome := outcomeOf(index, result)
		p.outcomes = append(p.outcomes, outcome)
		o.observer.OnCandidateCompared(ctx, p.id, outcome, elapsed)
		return true
	})

	summary := o.finish(p, err)
	switch {
	case summary.Superseded:
		span.SetStatus(codes.Error, "superseded")
		opLogger.Info("comparison pass discarded after clear", zap.Int("processed", summary.ProcessedCount))
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "comparison failed")
		opLogger.Warn("comparison pass aborted", zap.Error(err), zap.Int("processed", summary.ProcessedCount))
	default:
		span.SetAttributes(attribute.Int("pass.matched", summary.MatchedCount))
		opLogger.Info("comparison pass finished",
			zap.Int("matched", summary.MatchedCount),
			zap.Duration("duration", summary.Duration()))
	}
	o.observer.OnPassFinished(ctx, summary)
}

// apply reduces e into the state if the pass with generation is still the
// current one.
func (o *Orchestrator) apply(generation uint64, e Event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.state.accepts(generation) {
		return false
	}
	o.state = Reduce(o.state, e)
	return true
}

func (o *Orchestrator) finish(p *pass, err error) PassSummary {
	o.mu.Lock()
	defer o.mu.Unlock()

	summary := PassSummary{
		PassID:         p.id,
		Owner:          o.owner,
		CandidateCount: len(p.items),
		ProcessedCount: len(p.outcomes),
		StartedAt:      p.startedAt,
		FinishedAt:     time.Now(),
		Results:        p.outcomes,
	}

	if !o.state.accepts(p.generation) {
		summary.Superseded = true
		summary.Status = StatusError
		summary.ErrorMessage = errSuperseded.Error()
		return summary
	}
	if err != nil {
		o.state = Reduce(o.state, PassFailed{Generation: p.generation, Message: err.Error()})
	} else {
		o.state = Reduce(o.state, PassCompleted{Generation: p.generation})
	}
	summary.Status = o.state.Status
	summary.ErrorMessage = o.state.ErrorMessage
	summary.MatchedCount = o.state.MatchedCount
	return summary
}
