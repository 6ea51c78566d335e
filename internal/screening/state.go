package screening

import (
	"bytes"

	"github.com/example/facefinder/internal/faceservice"
)

// Status is the lifecycle position of a workspace.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusError      Status = "error"
	StatusDone       Status = "done"
)

// MatchResult is what one comparison reported for a candidate.
type MatchResult struct {
	Matched    bool                    `json:"matched"`
	RawMatches []faceservice.FaceMatch `json:"raw_matches"`
}

// BestSimilarity returns the highest similarity among the raw matches, or 0.
func (r MatchResult) BestSimilarity() float32 {
	var best float32
	for _, m := range r.RawMatches {
		if m.Similarity > best {
			best = m.Similarity
		}
	}
	return best
}

// CandidateImage is one uploaded candidate. Index is its upload position and
// never changes; Content is never modified after upload.
type CandidateImage struct {
	Index   int
	Content []byte
	Result  *MatchResult
}

// State is the complete workspace. Generation increases on every pass start
// and every clear, so events from an abandoned pass can be recognised.
type State struct {
	Candidates   []CandidateImage
	Reference    []byte
	HasReference bool
	Status       Status
	ErrorMessage string
	MatchedCount int
	PassID       string
	Generation   uint64
}

// NewState returns an empty idle workspace.
func NewState() State {
	return State{Status: StatusIdle}
}

// accepts reports whether events from the pass with the given generation may
// still change the state.
func (s State) accepts(generation uint64) bool {
	return s.Status == StatusProcessing && s.Generation == generation
}

func (s State) cloneCandidates(extra int) []CandidateImage {
	out := make([]CandidateImage, len(s.Candidates), len(s.Candidates)+extra)
	copy(out, s.Candidates)
	return out
}

// Event is a state transition. Apply events with Reduce.
type Event interface {
	apply(s State) State
}

// Reduce returns the state that results from applying e to s. s is not
// modified.
func Reduce(s State, e Event) State {
	return e.apply(s)
}

// CandidatesAdded appends payloads to the collection in order.
type CandidatesAdded struct {
	Payloads [][]byte
}

func (e CandidatesAdded) apply(s State) State {
	next := s
	next.Candidates = s.cloneCandidates(len(e.Payloads))
	for _, payload := range e.Payloads {
		next.Candidates = append(next.Candidates, CandidateImage{
			Index:   len(next.Candidates),
			Content: bytes.Clone(payload),
		})
	}
	return next
}

// ReferenceReplaced sets the reference image, discarding any previous one.
type ReferenceReplaced struct {
	Payload []byte
}

func (e ReferenceReplaced) apply(s State) State {
	next := s
	next.Reference = bytes.Clone(e.Payload)
	if next.Reference == nil {
		next.Reference = []byte{}
	}
	next.HasReference = true
	return next
}

// Cleared empties the workspace.
type Cleared struct{}

func (Cleared) apply(s State) State {
	next := NewState()
	next.Generation = s.Generation + 1
	return next
}

// PassStarted begins a fresh pass: every earlier result is dropped.
type PassStarted struct {
	PassID string
}

func (e PassStarted) apply(s State) State {
	next := s
	next.Candidates = s.cloneCandidates(0)
	for i := range next.Candidates {
		next.Candidates[i].Result = nil
	}
	next.Status = StatusProcessing
	next.ErrorMessage = ""
	next.MatchedCount = 0
	next.PassID = e.PassID
	next.Generation = s.Generation + 1
	return next
}

// ResultRecorded stores the comparison outcome for one candidate.
type ResultRecorded struct {
	Generation uint64
	Index      int
	Result     MatchResult
}

func (e ResultRecorded) apply(s State) State {
	if !s.accepts(e.Generation) || e.Index < 0 || e.Index >= len(s.Candidates) {
		return s
	}
	next := s
	next.Candidates = s.cloneCandidates(0)
	result := e.Result
	next.Candidates[e.Index].Result = &result
	return next
}

// PassFailed aborts the pass. Results recorded so far are kept.
type PassFailed struct {
	Generation uint64
	Message    string
}

func (e PassFailed) apply(s State) State {
	if !s.accepts(e.Generation) {
		return s
	}
	next := s
	next.Status = StatusError
	next.ErrorMessage = e.Message
	return next
}

// PassCompleted finishes the pass and publishes the matched count.
type PassCompleted struct {
	Generation uint64
}

func (e PassCompleted) apply(s State) State {
	if !s.accepts(e.Generation) {
		return s
	}
	next := s
	next.Status = StatusDone
	next.MatchedCount = 0
	for _, c := range s.Candidates {
		if c.Result != nil && c.Result.Matched {
			next.MatchedCount++
		}
	}
	return next
}

func validate(s State) error {
	if !s.HasReference {
		return &ValidationError{Reason: "reference image is not set"}
	}
	if len(s.Candidates) == 0 {
		return &ValidationError{Reason: "candidate collection is empty"}
	}
	return nil
}

// CandidateView is the read-only presentation of a candidate.
type CandidateView struct {
	Index  int          `json:"index"`
	Size   int          `json:"size"`
	Result *MatchResult `json:"result,omitempty"`
}

// Snapshot is the read-only presentation of a workspace.
type Snapshot struct {
	Status       Status          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	MatchedCount int             `json:"matched_count"`
	HasReference bool            `json:"has_reference"`
	PassID       string          `json:"pass_id,omitempty"`
	Candidates   []CandidateView `json:"candidates"`
}

// Snapshot renders s for presentation.
func (s State) Snapshot() Snapshot {
	snap := Snapshot{
		Status:       s.Status,
		ErrorMessage: s.ErrorMessage,
		MatchedCount: s.MatchedCount,
		HasReference: s.HasReference,
		PassID:       s.PassID,
		Candidates:   make([]CandidateView, 0, len(s.Candidates)),
	}
	for _, c := range s.Candidates {
		view := CandidateView{Index: c.Index, Size: len(c.Content)}
		if c.Result != nil {
			result := *c.Result
			view.Result = &result
		}
		snap.Candidates = append(snap.Candidates, view)
	}
	return snap
}
