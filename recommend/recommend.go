package recommend

import (
	"math"
	"sort"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/telemetry"
	"github.com/kbukum/streamsight/topology"
)

// OperatorChange summarizes one operator's allocation after both passes:
// the packed task set, the recommended parallelism and the per-instance
// resources, plus the pressure ratios that drove the changes.
type OperatorChange struct {
	Operator    string  `json:"operator"`
	Tasks       []int   `json:"tasks"`
	Parallelism int     `json:"parallelism"`
	CPU         float64 `json:"cpu"`
	RAM         int64   `json:"ram"`
	Disk        int64   `json:"disk"`
	LoadRatio   float64 `json:"load_ratio,omitempty"`
	GCRatio     float64 `json:"gc_ratio,omitempty"`
}

// Recommendation is the revised plan. Plan keeps the input's container
// layout with CPU and RAM raised in place; parallelism raises appear in the
// per-operator summaries since new instances have no placement yet.
// AdjustedRates carries the expected per-task service rates after the
// resource pass, in records per second.
type Recommendation struct {
	Plan          topology.PackingPlan `json:"packing_plan"`
	Operators     []OperatorChange     `json:"operators"`
	AdjustedRates map[int]float64      `json:"adjusted_rates,omitempty"`
}

// Recommender runs the two revision passes.
type Recommender struct {
	cfg Config
	log *logger.Logger
}

// New creates a recommender with validated thresholds.
func New(cfg Config, log *logger.Logger) (*Recommender, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidInput("recommend", err.Error()).WithCause(err)
	}
	return &Recommender{cfg: cfg, log: log.WithComponent("recommend")}, nil
}

// ratios is an operator's worst resource pressure over its instances,
// relative to the thresholds.
type ratios struct {
	load float64
	gc   float64
}

// Recommend revises the plan against the measured CPU load and garbage
// collection rows, the prior per-task service rates and the per-task
// arrival rates. The plan must satisfy the packing schema; a violation
// fails fast.
func (r *Recommender) Recommend(plan *topology.PackingPlan, cpu, gc []telemetry.Row, serviceRates, arrivalRates map[int]float64) (*Recommendation, error) {
	if plan == nil {
		return nil, errors.MissingField("packing_plan")
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	planTasks := plan.Tasks()
	pressure := operatorPressure(planTasks, meansByTask(cpu), meansByTask(gc), r.cfg)

	revised := plan.Clone()
	scaled := 0
	for ci := range revised.ContainerPlans {
		for ii := range revised.ContainerPlans[ci].Instances {
			inst := &revised.ContainerPlans[ci].Instances[ii]
			rt, ok := pressure[inst.ComponentName]
			if !ok {
				continue
			}
			if rt.load > 1 {
				inst.InstanceResources.CPU = math.Ceil(inst.InstanceResources.CPU * rt.load)
				scaled++
			}
			if rt.gc > 1 {
				inst.InstanceResources.RAM = int64(math.Ceil(float64(inst.InstanceResources.RAM) * rt.gc))
				scaled++
			}
		}
	}

	// Relieving a bottleneck is expected to speed the operator's instances
	// up in proportion to the smaller of the two raises.
	adjusted := make(map[int]float64, len(serviceRates))
	for task, rate := range serviceRates {
		adjusted[task] = rate
	}
	for operator, tasks := range planTasks {
		prop := minProportion(pressure[operator])
		if prop <= 1 {
			continue
		}
		for _, task := range tasks {
			if rate, ok := adjusted[task]; ok {
				adjusted[task] = rate * prop
			}
		}
	}

	parallelism := r.parallelismPass(planTasks, adjusted, arrivalRates)

	out := &Recommendation{Plan: revised, AdjustedRates: adjusted}
	operators := make([]string, 0, len(planTasks))
	for operator := range planTasks {
		operators = append(operators, operator)
	}
	sort.Strings(operators)
	raised := 0
	for _, operator := range operators {
		res, _ := revised.MaxResources(operator)
		rt := pressure[operator]
		if parallelism[operator] > len(planTasks[operator]) {
			raised++
		}
		out.Operators = append(out.Operators, OperatorChange{
			Operator:    operator,
			Tasks:       planTasks[operator],
			Parallelism: parallelism[operator],
			CPU:         res.CPU,
			RAM:         res.RAM,
			Disk:        res.Disk,
			LoadRatio:   rt.load,
			GCRatio:     rt.gc,
		})
	}

	r.log.Info("Packing plan revised", logger.Fields(
		"operators", len(operators),
		"resource_raises", scaled,
		"parallelism_raises", raised,
	))
	return out, nil
}

// parallelismPass sizes each operator so its slowest adjusted instance
// keeps up with the summed arrivals. Counts only grow.
func (r *Recommender) parallelismPass(planTasks map[string][]int, adjusted, arrivalRates map[int]float64) map[string]int {
	out := make(map[string]int, len(planTasks))
	for operator, tasks := range planTasks {
		current := len(tasks)
		out[operator] = current

		total := 0.0
		seen := false
		for _, task := range tasks {
			if rate, ok := arrivalRates[task]; ok {
				total += rate
				seen = true
			}
		}
		if !seen {
			// Sources receive nothing; their parallelism is not ours to size.
			continue
		}

		slowest := math.Inf(1)
		for _, task := range tasks {
			if rate, ok := adjusted[task]; ok && rate < slowest {
				slowest = rate
			}
		}
		if math.IsInf(slowest, 1) || slowest <= 0 {
			continue
		}
		if want := int(math.Ceil(total / slowest)); want > current {
			out[operator] = want
		}
	}
	return out
}

// operatorPressure takes, per operator, the worst threshold ratio over the
// instances measured for both metrics. An instance missing either metric
// contributes nothing.
func operatorPressure(planTasks map[string][]int, cpu, gc map[int]float64, cfg Config) map[string]ratios {
	out := make(map[string]ratios)
	for operator, tasks := range planTasks {
		rt := ratios{}
		found := false
		for _, task := range tasks {
			load, okLoad := cpu[task]
			pause, okPause := gc[task]
			if !okLoad || !okPause {
				continue
			}
			found = true
			if v := load / cfg.CPULoadThreshold; v > rt.load {
				rt.load = v
			}
			if v := pause / cfg.GCTimeThresholdMS; v > rt.gc {
				rt.gc = v
			}
		}
		if found {
			out[operator] = rt
		}
	}
	return out
}

// minProportion is the expected service speedup of an operator whose
// resources were raised: the smaller raise bounds the improvement.
func minProportion(rt ratios) float64 {
	switch {
	case rt.load > 1 && rt.gc > 1:
		return math.Min(rt.load, rt.gc)
	case rt.load > 1:
		return rt.load
	case rt.gc > 1:
		return rt.gc
	}
	return 1
}

// meansByTask averages row values per task.
func meansByTask(rows []telemetry.Row) map[int]float64 {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for _, row := range rows {
		sums[row.Task] += row.Value
		counts[row.Task]++
	}
	out := make(map[int]float64, len(sums))
	for task, sum := range sums {
		out[task] = sum / float64(counts[task])
	}
	return out
}
