package pulse

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/pulsebook/pulsebook/internal/model"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultCandidateLimit = 200
	DefaultThreshold      = 0.90
	DefaultModelThreshold = 0.80
	DefaultTopN           = 5
)

// Candidates supplies the records a search ranks.
type Candidates interface {
	RecentTeachingRecords(ctx context.Context, limit int, scope model.Scope) ([]model.TeachingRecord, error)
}

// VectorExtractor is a higher-fidelity alternative to the keyword
// dictionary, typically backed by an external model.
type VectorExtractor interface {
	ExtractVector(ctx context.Context, grid map[string]string) ([]float64, error)
}

// Options tunes a Searcher.
type Options struct {
	CandidateLimit int
	Threshold      float64
	ModelThreshold float64
	TopN           int
}

func (o Options) withDefaults() Options {
	if o.CandidateLimit <= 0 {
		o.CandidateLimit = DefaultCandidateLimit
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.ModelThreshold <= 0 {
		o.ModelThreshold = DefaultModelThreshold
	}
	if o.TopN <= 0 {
		o.TopN = DefaultTopN
	}
	return o
}

// Match is one ranked search hit.
type Match struct {
	RecordID       int64             `json:"record_id"`
	PatientName    string            `json:"patient_name"`
	VisitDate      string            `json:"visit_date"`
	Similarity     float64           `json:"similarity"`
	Complaint      string            `json:"complaint,omitempty"`
	Diagnosis      string            `json:"diagnosis,omitempty"`
	PulseGrid      map[string]string `json:"pulse_grid"`
	PractitionerID *int64            `json:"practitioner_id"`
}

// Searcher ranks teaching records by pulse-pattern similarity.
type Searcher struct {
	src       Candidates
	extractor VectorExtractor
	opts      Options
	log       *slog.Logger
}

// NewSearcher creates a Searcher. extractor may be nil, in which case only
// the keyword dictionary is used.
func NewSearcher(src Candidates, extractor VectorExtractor, opts Options, logger *slog.Logger) *Searcher {
	return &Searcher{
		src:       src,
		extractor: extractor,
		opts:      opts.withDefaults(),
		log:       logger,
	}
}

// SearchSimilar returns up to TopN teaching records whose pulse grid is at
// least as similar to grid as the active threshold, best first. An empty grid
// yields no matches.
func (s *Searcher) SearchSimilar(ctx context.Context, grid map[string]string, scope model.Scope) ([]Match, error) {
	if emptyGrid(grid) {
		return []Match{}, nil
	}

	query, useModel := s.queryVector(ctx, grid)
	if query.IsZero() {
		s.log.Debug("pulse grid has no recognised terms")
		return []Match{}, nil
	}
	threshold := s.opts.Threshold
	if useModel {
		threshold = s.opts.ModelThreshold
	}

	cands, err := s.src.RecentTeachingRecords(ctx, s.opts.CandidateLimit, scope)
	if err != nil {
		return nil, fmt.Errorf("loading candidates: %w", err)
	}

	out := []Match{}
	for _, c := range cands {
		cgrid := c.Record.Data.PulseGrid()
		if emptyGrid(cgrid) {
			continue
		}
		vec := s.candidateVector(ctx, c.Record, cgrid, useModel)
		if vec.IsZero() {
			continue
		}
		sim := Similarity(query, vec)
		if sim < threshold {
			continue
		}
		out = append(out, Match{
			RecordID:       c.Record.ID,
			PatientName:    c.PatientName,
			VisitDate:      c.Record.VisitDate.Format("2006-01-02"),
			Similarity:     sim,
			Complaint:      c.Record.Complaint,
			Diagnosis:      c.Record.Diagnosis,
			PulseGrid:      cgrid,
			PractitionerID: c.Record.PractitionerID,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > s.opts.TopN {
		out = out[:s.opts.TopN]
	}
	s.log.Debug("similarity search", "candidates", len(cands), "matches", len(out), "model", useModel)
	return out, nil
}

// queryVector vectorises the query grid, preferring the extractor. It reports
// whether the extractor path is active; an extractor failure falls back to
// the keyword dictionary for the whole search.
func (s *Searcher) queryVector(ctx context.Context, grid map[string]string) (Vector, bool) {
	if s.extractor != nil {
		raw, err := s.extractor.ExtractVector(ctx, grid)
		if err == nil {
			if v, ok := VectorFrom(raw); ok {
				return v, true
			}
			err = fmt.Errorf("got %d dimensions, want %d", len(raw), Dims)
		}
		s.log.Warn("vector extractor failed, using keywords", "error", err)
	}
	return GridVector(grid), false
}

func (s *Searcher) candidateVector(ctx context.Context, rec *model.MedicalRecord, grid map[string]string, useModel bool) Vector {
	if !useModel {
		return GridVector(grid)
	}
	if raw, ok := rec.Data.PulseVector(); ok {
		if v, ok := VectorFrom(raw); ok {
			return v
		}
	}
	raw, err := s.extractor.ExtractVector(ctx, grid)
	if err == nil {
		if v, ok := VectorFrom(raw); ok {
			return v
		}
	}
	s.log.Debug("extractor failed for candidate", "id", rec.ID, "error", err)
	return GridVector(grid)
}

func emptyGrid(grid map[string]string) bool {
	for _, v := range grid {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
