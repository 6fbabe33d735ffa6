package queueing

import (
	"github.com/kbukum/streamsight/errors"
)

// Report is one instance's predicted queueing behavior. Waiting and
// QueueSize are only meaningful while the instance is not saturated; a
// saturated instance reports the flag and its utilization instead of
// extrapolated numbers.
type Report struct {
	Task         int     `json:"task"`
	Utilization  float64 `json:"utilization"`
	Waiting      float64 `json:"mean_waiting_ms"`
	QueueSize    float64 `json:"queue_size"`
	Capacity     float64 `json:"capacity_pct"`
	Saturated    bool    `json:"saturated,omitempty"`
	Backpressure bool    `json:"backpressure"`
}

// Estimator derives per-instance predictions from service and arrival
// statistics. Instances present in only one of the inputs are not
// reported, and instances without a usable measurement are skipped.
type Estimator interface {
	Name() string
	Estimate(service []ServiceStats, arrivals []ArrivalStats) []Report
}

// New returns the estimator the configuration selects.
func New(cfg Config) (Estimator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidInput("queueing", err.Error()).WithCause(err)
	}
	if cfg.Estimator == EstimatorGeneral {
		return &General{}, nil
	}
	return &Markovian{}, nil
}

// Markovian models each instance as an M/M/1 queue: Poisson arrivals and
// exponentially distributed service times at a single server.
type Markovian struct{}

// Name implements Estimator.
func (m *Markovian) Name() string { return EstimatorMarkovian }

// Estimate joins the two inputs by task and evaluates the closed M/M/1
// forms: waiting = lambda / (mu * (mu - lambda)), queue = rho^2 / (1 - rho).
func (m *Markovian) Estimate(service []ServiceStats, arrivals []ArrivalStats) []Report {
	byTask := arrivalIndex(arrivals)
	var out []Report
	for _, svc := range service {
		arr, ok := byTask[svc.Task]
		if !ok {
			continue
		}
		mu := svc.Rate()
		if mu <= 0 || arr.Rate < 0 {
			continue
		}

		lambda := arr.Rate
		r := Report{
			Task:        svc.Task,
			Utilization: lambda / mu,
			Capacity:    lambda / mu * 100,
		}
		if r.Utilization >= 1 {
			r.Saturated = true
		} else {
			r.Waiting = 1000 * lambda / (mu * (mu - lambda))
			r.QueueSize = r.Utilization * r.Utilization / (1 - r.Utilization)
		}
		r.Backpressure = r.Utilization > 1 || r.Capacity > 100
		out = append(out, r)
	}
	return out
}

// General applies Kingman's heavy traffic approximation, which bounds the
// waiting time of a G/G/1 queue using only the first two moments of the
// service and inter-arrival distributions. Queue sizes follow by Little's
// law.
type General struct{}

// Name implements Estimator.
func (g *General) Name() string { return EstimatorGeneral }

// Estimate joins the two inputs by task and evaluates
// waiting = rho / (1 - rho) * mean service * (cv_service^2 + cv_arrival^2) / 2.
func (g *General) Estimate(service []ServiceStats, arrivals []ArrivalStats) []Report {
	byTask := arrivalIndex(arrivals)
	var out []Report
	for _, svc := range service {
		arr, ok := byTask[svc.Task]
		if !ok {
			continue
		}
		if svc.Mean <= 0 || arr.MeanInterArrival <= 0 {
			continue
		}

		rho := svc.Mean / arr.MeanInterArrival
		cvArrival := arr.StdInterArrival / arr.MeanInterArrival
		cvService := svc.Std / svc.Mean
		r := Report{
			Task:        svc.Task,
			Utilization: rho,
			Capacity:    arr.Rate / svc.Rate() * 100,
		}
		if rho >= 1 {
			r.Saturated = true
		} else {
			r.Waiting = rho / (1 - rho) * svc.Mean * (cvService*cvService + cvArrival*cvArrival) / 2
			// Waiting is milliseconds, the rate is per second.
			r.QueueSize = r.Waiting * arr.Rate / 1000
		}
		r.Backpressure = r.Utilization > 1 || r.Capacity > 100
		out = append(out, r)
	}
	return out
}

func arrivalIndex(arrivals []ArrivalStats) map[int]ArrivalStats {
	byTask := make(map[int]ArrivalStats, len(arrivals))
	for _, a := range arrivals {
		byTask[a.Task] = a
	}
	return byTask
}
