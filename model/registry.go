package model

import (
	"sort"
	"strings"

	"github.com/kbukum/streamsight/errors"
)

// Model names accepted by requests.
const (
	TopologyQueueing         = "queueing"
	TopologyQueueingProposed = "queueing-proposed"
	TrafficStatsSummary      = "stats-summary"
)

// Kind separates the two model families: topology models predict
// performance, traffic models describe history.
type Kind string

const (
	KindTopology Kind = "topology"
	KindTraffic  Kind = "traffic"
)

var registry = map[string]Kind{
	TopologyQueueing:         KindTopology,
	TopologyQueueingProposed: KindTopology,
	TrafficStatsSummary:      KindTraffic,
}

// Available lists the registered model names of one kind, sorted.
func Available(kind Kind) []string {
	var names []string
	for name, k := range registry {
		if k == kind {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Resolve expands and checks the requested model names against the
// registry. An empty request or the single name "all" selects every model
// of the kind; an unknown name fails listing the available set.
func Resolve(kind Kind, requested []string) ([]string, error) {
	if len(requested) == 0 || (len(requested) == 1 && requested[0] == "all") {
		return Available(kind), nil
	}

	seen := make(map[string]bool)
	var names []string
	for _, name := range requested {
		if registry[name] != kind {
			return nil, errors.InvalidInput("model", "unknown model "+name).
				WithDetail("available", strings.Join(Available(kind), ", "))
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}
