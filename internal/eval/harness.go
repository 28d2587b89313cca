// Package eval runs a question set through the QA path and scores the
// answers.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/ragchat/internal/rag"
)

// Answerer is the QA path under evaluation.
type Answerer interface {
	Answer(ctx context.Context, req rag.Request) (*rag.Response, error)
}

type Harness struct {
	answerer   Answerer
	metrics    []Metric
	checkpoint string
}

type Option func(*Harness)

// WithCheckpoint appends each scored row to path and skips questions already
// present there on a later run. The file is removed after a successful run.
func WithCheckpoint(path string) Option {
	return func(h *Harness) { h.checkpoint = path }
}

func NewHarness(answerer Answerer, metrics []Metric, opts ...Option) *Harness {
	h := &Harness{answerer: answerer, metrics: metrics}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Harness) metricNames() []string {
	names := make([]string, len(h.metrics))
	for i, m := range h.metrics {
		names[i] = m.Name()
	}
	return names
}

// Run answers and scores every question with an empty history, then appends
// the Mean row. The first failing answer or score aborts the run.
func (h *Harness) Run(ctx context.Context, questions []Question) (*Table, error) {
	table := &Table{Metrics: h.metricNames()}

	var done map[string]Row
	if h.checkpoint != "" {
		var err error
		if done, err = loadCheckpoint(h.checkpoint); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	for i, q := range questions {
		if row, ok := done[q.Question]; ok {
			table.Rows = append(table.Rows, row)
			continue
		}

		row, err := h.score(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", i+1, err)
		}
		table.Rows = append(table.Rows, row)

		if h.checkpoint != "" {
			if err := appendCheckpoint(h.checkpoint, row); err != nil {
				return nil, err
			}
		}
		slog.Info("question evaluated", "index", i+1, "of", len(questions))
	}

	table.AppendMean()

	if h.checkpoint != "" {
		if err := removeCheckpoint(h.checkpoint); err != nil {
			slog.Warn("remove eval checkpoint", "path", h.checkpoint, "error", err)
		}
	}
	slog.Info("evaluation finished", "questions", len(questions), "duration", time.Since(start))
	return table, nil
}

func (h *Harness) score(ctx context.Context, q Question) (Row, error) {
	resp, err := h.answerer.Answer(ctx, rag.Request{Question: q.Question})
	if err != nil {
		return Row{}, fmt.Errorf("answer: %w", err)
	}

	sample := Sample{
		Question:  q.Question,
		Answer:    resp.Answer,
		Contexts:  resp.Contexts(),
		Reference: q.Reference,
	}
	row := Row{
		Question:  sample.Question,
		Answer:    sample.Answer,
		Contexts:  sample.Contexts,
		Reference: sample.Reference,
		Scores:    make(map[string]float64, len(h.metrics)),
	}
	for _, m := range h.metrics {
		v, err := m.Score(ctx, sample)
		if err != nil {
			return Row{}, fmt.Errorf("score %s: %w", m.Name(), err)
		}
		row.Scores[m.Name()] = v
	}
	return row, nil
}
