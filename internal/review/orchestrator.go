package review

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicdata/district-offices/internal/model"
	"github.com/civicdata/district-offices/internal/store"
)

// Decision is a reviewer's verdict on one extraction.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

var (
	// ErrQueueMismatch is returned when a decision names an extraction
	// other than the one currently under review. Stale browser tabs and
	// double-clicks land here; the decision is refused outright rather
	// than applied to the wrong item.
	ErrQueueMismatch = eris.New("decision does not match extraction under review")

	// ErrQueueExhausted signals that every queued extraction has been
	// decided.
	ErrQueueExhausted = eris.New("review queue exhausted")

	// ErrNothingUnderReview is returned for decisions that arrive when
	// no item is being presented.
	ErrNothingUnderReview = eris.New("no extraction under review")
)

// Item is one extraction presented to the reviewer.
type Item struct {
	Extraction model.Extraction
	Unit       model.Unit
	Candidates []model.CandidateOffice
	ReviewHTML []byte
}

// Exporter pushes validated offices upstream. Satisfied by the sync
// engine; nil disables the post-acceptance push.
type Exporter interface {
	ExportOffices(ctx context.Context) (int, error)
}

// Presenter shows a review item to the human, typically by opening the
// rendered document in a browser.
type Presenter interface {
	Present(ctx context.Context, item *Item) error
}

// Orchestrator walks pending extractions one at a time. The queue is
// snapshotted once at startup and the cursor only moves forward; one
// item is in flight at any moment and decisions are fully serialized.
type Orchestrator struct {
	store        store.Store
	exporter     Exporter
	presenter    Presenter
	callbackBase string
	maxPending   int

	mu      sync.Mutex
	queue   []int64
	cursor  int
	current int64 // 0 when nothing is under review

	advance chan struct{}
}

func NewOrchestrator(s store.Store, exporter Exporter, presenter Presenter, callbackBase string, maxPending int) *Orchestrator {
	if maxPending <= 0 {
		maxPending = 100
	}
	return &Orchestrator{
		store:        s,
		exporter:     exporter,
		presenter:    presenter,
		callbackBase: callbackBase,
		maxPending:   maxPending,
		advance:      make(chan struct{}, 1),
	}
}

// BuildQueue snapshots the reviewable extractions in review order. Rows
// stranded in processing by an interrupted session are reclaimed ahead
// of the pending ones, so killing a session never loses its in-flight
// item. Rows that turn pending after this never join the running
// session.
func (o *Orchestrator) BuildQueue(ctx context.Context) (int, error) {
	stranded, err := o.store.ListProcessing(ctx, o.maxPending)
	if err != nil {
		return 0, err
	}
	if len(stranded) > 0 {
		zap.L().Info("reclaiming extractions from an interrupted session",
			zap.Int("count", len(stranded)))
	}
	pending, err := o.store.ListPending(ctx, o.maxPending)
	if err != nil {
		return 0, err
	}

	queue := make([]int64, 0, len(stranded)+len(pending))
	for _, e := range stranded {
		queue = append(queue, e.ID)
	}
	for _, e := range pending {
		queue = append(queue, e.ID)
	}
	if len(queue) > o.maxPending {
		queue = queue[:o.maxPending]
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.queue = queue
	o.cursor = 0
	o.current = 0
	return len(o.queue), nil
}

// Next moves the cursor to the next queued extraction, marks it
// processing, renders its review document, and returns it. Extractions
// that reached a terminal state since the snapshot are skipped.
func (o *Orchestrator) Next(ctx context.Context) (*Item, error) {
	for {
		o.mu.Lock()
		if o.cursor >= len(o.queue) {
			o.mu.Unlock()
			return nil, ErrQueueExhausted
		}
		id := o.queue[o.cursor]
		o.mu.Unlock()

		item, err := o.prepare(ctx, id)
		if err == nil {
			o.mu.Lock()
			o.current = id
			o.mu.Unlock()
			return item, nil
		}
		if eris.Is(err, store.ErrInvalidTransition) || eris.Is(err, store.ErrNotFound) {
			zap.L().Debug("skipping stale queue entry", zap.Int64("extraction_id", id))
			o.mu.Lock()
			o.cursor++
			o.mu.Unlock()
			continue
		}
		return nil, err
	}
}

func (o *Orchestrator) prepare(ctx context.Context, id int64) (*Item, error) {
	ext, err := o.store.GetExtraction(ctx, id)
	if err != nil {
		return nil, err
	}
	switch ext.Status {
	case model.ExtractionPending:
		if err := o.store.TransitionTo(ctx, id, model.ExtractionProcessing, ""); err != nil {
			return nil, err
		}
	case model.ExtractionProcessing:
		// Reclaimed from an interrupted session; already marked.
	default:
		return nil, eris.Wrapf(store.ErrInvalidTransition, "extraction %d is %s", id, ext.Status)
	}

	unit, err := o.store.GetUnit(ctx, ext.UnitID)
	if err != nil {
		return nil, err
	}
	candidates, err := o.store.CandidateOfficesFor(ctx, id)
	if err != nil {
		return nil, err
	}

	html, err := RenderReview(ReviewPage{
		Extraction:   *ext,
		Unit:         *unit,
		Candidates:   candidates,
		CallbackBase: o.callbackBase,
	})
	if err != nil {
		return nil, err
	}
	if _, err := o.store.StoreArtifact(ctx, id, model.ArtifactReviewDocument, html, "text/html"); err != nil {
		return nil, err
	}
	if err := o.store.AppendEvent(ctx, id, model.EventReviewRendered, map[string]any{
		"candidates": len(candidates),
	}); err != nil {
		return nil, err
	}

	ext.Status = model.ExtractionProcessing
	return &Item{
		Extraction: *ext,
		Unit:       *unit,
		Candidates: candidates,
		ReviewHTML: html,
	}, nil
}

// Decide applies a reviewer verdict to the extraction under review.
// Decisions for any other extraction fail with ErrQueueMismatch and
// change nothing.
func (o *Orchestrator) Decide(ctx context.Context, extractionID int64, decision Decision) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == 0 {
		return ErrNothingUnderReview
	}
	if extractionID != o.current {
		return eris.Wrapf(ErrQueueMismatch, "got %d, reviewing %d", extractionID, o.current)
	}

	if err := o.apply(ctx, extractionID, decision); err != nil {
		return err
	}

	o.current = 0
	o.cursor++
	select {
	case o.advance <- struct{}{}:
	default:
	}
	return nil
}

func (o *Orchestrator) apply(ctx context.Context, extractionID int64, decision Decision) error {
	if err := o.store.AppendEvent(ctx, extractionID, model.EventDecisionReceived, map[string]any{
		"decision": string(decision),
	}); err != nil {
		return err
	}

	switch decision {
	case DecisionReject:
		return o.store.TransitionTo(ctx, extractionID, model.ExtractionRejected, "")

	case DecisionAccept:
		return o.accept(ctx, extractionID)

	default:
		return eris.Errorf("review: unknown decision %q", decision)
	}
}

// accept promotes every candidate to a validated office, keyed by the
// deterministic office ID, then marks the extraction validated and
// kicks a best-effort export.
func (o *Orchestrator) accept(ctx context.Context, extractionID int64) error {
	ext, err := o.store.GetExtraction(ctx, extractionID)
	if err != nil {
		return err
	}
	candidates, err := o.store.CandidateOfficesFor(ctx, extractionID)
	if err != nil {
		return err
	}

	officeIDs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		office := model.ValidatedOffice{
			OfficeFields: c.OfficeFields,
			OfficeID:     model.OfficeID(ext.UnitID, c.City),
			UnitID:       ext.UnitID,
		}
		if err := o.store.UpsertValidatedOffice(ctx, office); err != nil {
			return err
		}
		officeIDs = append(officeIDs, office.OfficeID)
	}

	if err := o.store.AppendEvent(ctx, extractionID, model.EventOfficesUpserted, map[string]any{
		"office_ids": officeIDs,
	}); err != nil {
		return err
	}
	if err := o.store.TransitionTo(ctx, extractionID, model.ExtractionValidated, ""); err != nil {
		return err
	}

	// Export is best effort here; the sync command picks up anything
	// this misses.
	if o.exporter != nil {
		if _, err := o.exporter.ExportOffices(ctx); err != nil {
			zap.L().Warn("post-acceptance export failed",
				zap.Int64("extraction_id", extractionID), zap.Error(err))
		}
	}
	return nil
}

// Run presents queued extractions one at a time until the queue is
// exhausted or the context ends. Decisions arrive through Decide,
// usually from the callback server.
func (o *Orchestrator) Run(ctx context.Context) error {
	n, err := o.BuildQueue(ctx)
	if err != nil {
		return err
	}
	zap.L().Info("review session started", zap.Int("queued", n))

	for {
		item, err := o.Next(ctx)
		if eris.Is(err, ErrQueueExhausted) {
			zap.L().Info("review queue exhausted")
			return nil
		}
		if err != nil {
			return err
		}

		if err := o.presenter.Present(ctx, item); err != nil {
			return eris.Wrapf(err, "review: present extraction %d", item.Extraction.ID)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.advance:
		}
	}
}
