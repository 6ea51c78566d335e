package screening

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/facefinder/internal/faceservice"
)

type passItem struct {
	index   int
	content []byte
}

// pass is the frozen input of one comparison pass plus what it produced.
type pass struct {
	id         string
	generation uint64
	reference  []byte
	items      []passItem
	startedAt  time.Time
	cancel     context.CancelFunc
	done       chan struct{}
	outcomes   []CandidateOutcome
}

// comparer performs one comparison at a time against a fixed reference.
type comparer struct {
	client    faceservice.Client
	tracer    trace.Tracer
	threshold float32
	timeout   time.Duration
}

// emitFunc publishes a result; it returns false once the pass has been
// superseded and must stop.
type emitFunc func(index int, result MatchResult, elapsed time.Duration) bool

// run walks the items in index order. Each comparison waits for the previous
// one to finish; the first error stops the walk.
func (c comparer) run(ctx context.Context, p *pass, emit emitFunc) error {
	for _, item := range p.items {
		if err := ctx.Err(); err != nil {
			return &ComparisonServiceError{Index: item.index, Err: err}
		}

		started := time.Now()
		resp, err := c.compare(ctx, p.reference, item)
		if err != nil {
			return &ComparisonServiceError{Index: item.index, Err: err}
		}

		result := MatchResult{Matched: len(resp.FaceMatches) > 0, RawMatches: resp.FaceMatches}
		if !emit(item.index, result, time.Since(started)) {
			return errSuperseded
		}
	}
	return nil
}

func (c comparer) compare(ctx context.Context, reference []byte, item passItem) (*faceservice.Response, error) {
	ctx, span := c.tracer.Start(ctx, "screening.compare_candidate",
		trace.WithAttributes(attribute.Int("candidate.index", item.index)))
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.CompareFaces(ctx, faceservice.Request{
		Source:              reference,
		Target:              item.content,
		SimilarityThreshold: c.threshold,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compare faces failed")
		return nil, err
	}
	if resp == nil {
		resp = &faceservice.Response{}
	}
	span.SetAttributes(attribute.Int("candidate.face_matches", len(resp.FaceMatches)))
	return resp, nil
}
