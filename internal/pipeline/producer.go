package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civicdata/district-offices/internal/extractor"
	"github.com/civicdata/district-offices/internal/model"
	"github.com/civicdata/district-offices/internal/scrape"
	"github.com/civicdata/district-offices/internal/store"
)

// Producer drives one unit from contact page to stored candidates:
// fetch, clean, extract, persist. Each step leaves an artifact and a
// provenance event, so a reviewer can reconstruct what the extractor
// saw. Successful extractions stay pending until a human decides;
// anything that breaks mid-pipeline lands in failed with the cause on
// the row.
type Producer struct {
	store       store.Store
	fetcher     scrape.Fetcher
	extractor   extractor.Extractor
	concurrency int
}

func NewProducer(s store.Store, f scrape.Fetcher, e extractor.Extractor, concurrency int) *Producer {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Producer{store: s, fetcher: f, extractor: e, concurrency: concurrency}
}

// RunStats summarizes one producer run.
type RunStats struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
}

// Run processes every current unit that has no validated offices yet.
// Units are worked concurrently; a unit's failure is recorded on its
// extraction and never stops the others.
func (p *Producer) Run(ctx context.Context) (*RunStats, error) {
	units, err := p.store.ListUnitsNeedingExtraction(ctx)
	if err != nil {
		return nil, err
	}

	var stats RunStats
	results := make([]int, len(units)) // 0 skipped, 1 succeeded, 2 failed

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, unit := range units {
		g.Go(func() error {
			outcome, err := p.ProcessUnit(gctx, unit)
			if err != nil {
				zap.L().Warn("unit processing failed",
					zap.String("unit_id", unit.UnitID), zap.Error(err))
				results[i] = 2
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return nil
			}
			if outcome {
				results[i] = 1
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range results {
		switch r {
		case 0:
			stats.Skipped++
		case 1:
			stats.Processed++
			stats.Succeeded++
		case 2:
			stats.Processed++
			stats.Failed++
		}
	}

	zap.L().Info("producer run complete",
		zap.Int("processed", stats.Processed),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped))
	return &stats, nil
}

// ProcessUnit runs the full production pipeline for one unit. The bool
// result reports whether an extraction was attempted; units with no
// known contact page are skipped without creating one.
func (p *Producer) ProcessUnit(ctx context.Context, unit model.Unit) (bool, error) {
	sourceURL := p.sourceURL(ctx, unit)
	if sourceURL == "" {
		zap.L().Debug("no contact page known, skipping",
			zap.String("unit_id", unit.UnitID))
		return false, nil
	}

	ext, err := p.store.CreateExtraction(ctx, unit.UnitID, sourceURL, 0)
	if err != nil {
		return false, err
	}
	log := zap.L().With(
		zap.Int64("extraction_id", ext.ID),
		zap.String("unit_id", unit.UnitID))

	if err := p.produce(ctx, ext, sourceURL); err != nil {
		// A page that genuinely lists no offices is not a pipeline
		// failure; record it distinctly so it can be told apart from
		// fetch and extractor breakage.
		if eris.Is(err, extractor.ErrNoOffices) {
			if aerr := p.store.AppendEvent(ctx, ext.ID, model.EventNoOfficesFound, map[string]any{
				"url": sourceURL,
			}); aerr != nil {
				log.Error("could not record empty page", zap.Error(aerr))
			}
		}
		if terr := p.store.TransitionTo(ctx, ext.ID, model.ExtractionFailed, err.Error()); terr != nil {
			log.Error("could not mark extraction failed", zap.Error(terr))
		}
		return true, err
	}

	log.Info("candidates ready for review")
	return true, nil
}

func (p *Producer) produce(ctx context.Context, ext *model.Extraction, sourceURL string) error {
	doc, err := p.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return err
	}
	if _, err := p.store.StoreArtifact(ctx, ext.ID, model.ArtifactSourceDocument, doc.Body, doc.ContentType); err != nil {
		return err
	}
	if err := p.store.AppendEvent(ctx, ext.ID, model.EventDocumentFetched, map[string]any{
		"url":    sourceURL,
		"bytes":  len(doc.Body),
		"status": doc.StatusCode,
	}); err != nil {
		return err
	}

	cleaned := scrape.Clean(doc.Body)
	if _, err := p.store.StoreArtifact(ctx, ext.ID, model.ArtifactCleanedDocument, cleaned, "text/html"); err != nil {
		return err
	}
	if err := p.store.AppendEvent(ctx, ext.ID, model.EventDocumentCleaned, map[string]any{
		"bytes_before": len(doc.Body),
		"bytes_after":  len(cleaned),
	}); err != nil {
		return err
	}

	res, err := p.extractor.Extract(ctx, ext.UnitID, cleaned)
	if err != nil {
		return err
	}
	if _, err := p.store.StoreArtifact(ctx, ext.ID, model.ArtifactExtractorResponse, res.Raw, "application/json"); err != nil {
		return err
	}

	candidates, err := p.store.StoreCandidateOffices(ctx, ext.ID, res.Offices)
	if err != nil {
		return err
	}
	candidateJSON, err := json.Marshal(candidates)
	if err != nil {
		return eris.Wrap(err, "pipeline: marshal candidates")
	}
	if _, err := p.store.StoreArtifact(ctx, ext.ID, model.ArtifactCandidateSet, candidateJSON, "application/json"); err != nil {
		return err
	}
	return p.store.AppendEvent(ctx, ext.ID, model.EventCandidatesStored, map[string]any{
		"count": len(candidates),
		"model": res.ModelID,
	})
}

// sourceURL prefers the imported contact endpoint over the unit's
// top-level website.
func (p *Producer) sourceURL(ctx context.Context, unit model.Unit) string {
	if c, err := p.store.GetContactEndpoint(ctx, unit.UnitID); err == nil && c.ContactURL != "" {
		return c.ContactURL
	}
	return unit.WebsiteURL
}
