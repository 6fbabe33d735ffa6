package model

import (
	"context"
	"time"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/observability"
	"github.com/kbukum/streamsight/traffic"
)

// TrafficRequest asks for traffic characterizations of one topology.
// SourceHours selects how far back the summary window reaches; zero uses
// the summarizer's default.
type TrafficRequest struct {
	Cluster     string
	Environ     string
	Topology    string
	Models      []string
	SourceHours int
}

// TrafficResult is one traffic model's output.
type TrafficResult struct {
	Model   string           `json:"model"`
	Summary *traffic.Summary `json:"summary"`
}

// TrafficResponse collects the per-model results and failures of one
// request.
type TrafficResponse struct {
	Topology  string                `json:"topology"`
	Reference string                `json:"reference"`
	Results   []TrafficResult       `json:"results"`
	Failures  []errors.FailureEntry `json:"failures,omitempty"`
}

// RunTraffic resolves the requested traffic models and runs them against
// the topology's current snapshot.
func (r *Runner) RunTraffic(ctx context.Context, req TrafficRequest) (*TrafficResponse, error) {
	names, err := Resolve(KindTraffic, req.Models)
	if err != nil {
		return nil, err
	}

	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordRequestStart(ctx)
		defer r.deps.Metrics.RecordRequestEnd(ctx)
	}

	snap, err := r.ensureCurrent(ctx, req.Cluster, req.Environ, req.Topology)
	if err != nil {
		return nil, err
	}

	resp := &TrafficResponse{Topology: snap.Topology, Reference: snap.Reference}
	w := r.deps.Summarizer.Window(req.SourceHours)

	var firstErr error
	for _, name := range names {
		start := time.Now()
		ctx, span := observability.StartSpan(ctx, observability.SpanModelRun)
		observability.SetSpanAttribute(ctx, observability.AttrModel, name)
		observability.SetSpanAttribute(ctx, observability.AttrTopology, snap.Topology)

		summary, err := r.deps.Summarizer.Summarize(ctx, snap, req.Cluster, req.Environ, w)

		status := "ok"
		if err != nil {
			status = "error"
			observability.SetSpanError(ctx, err)
		}
		if r.deps.Metrics != nil {
			r.deps.Metrics.RecordModelRun(ctx, name, status, time.Since(start))
		}
		span.End()

		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			resp.Failures = append(resp.Failures, errors.NewFailureEntry(name, err))
			r.recordFailure(ctx, name, err)
			r.log.Warn("traffic model failed", logger.MergeWithError(
				logger.Fields(logger.FieldModel, name, logger.FieldTopology, snap.Topology), err))
			continue
		}
		resp.Results = append(resp.Results, TrafficResult{Model: name, Summary: summary})
	}
	if len(resp.Results) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return resp, nil
}
