package topology

import (
	"fmt"
	"sort"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/validation"
)

// Resources describes a resource allocation. CPU is in cores, RAM and disk
// in bytes.
type Resources struct {
	CPU  float64 `json:"cpu" validate:"gt=0"`
	RAM  int64   `json:"ram" validate:"gt=0"`
	Disk int64   `json:"disk" validate:"gte=0"`
}

// InstancePlan places one operator instance with its resource allocation.
type InstancePlan struct {
	ComponentName     string    `json:"component_name" validate:"required"`
	TaskID            int       `json:"task_id" validate:"gte=0"`
	InstanceResources Resources `json:"instance_resources"`
}

// ContainerPlan groups the instances packed into one container together
// with the container's total resource requirement.
type ContainerPlan struct {
	ID                int            `json:"id" validate:"gte=0"`
	RequiredResources Resources      `json:"required_resources"`
	Instances         []InstancePlan `json:"instances" validate:"min=1,dive"`
}

// PackingPlan is the container placement document: which instances run in
// which container and with what resources.
type PackingPlan struct {
	ContainerPlans []ContainerPlan `json:"container_plans" validate:"min=1,dive"`
}

// Validate checks the plan schema: at least one container, every instance
// named and resourced, and no task id packed twice.
func (p *PackingPlan) Validate() error {
	if err := validation.Validate(p); err != nil {
		if appErr, ok := errors.AsAppError(err); ok {
			return errors.InvalidPlan(appErr.Message)
		}
		return errors.InvalidPlan(err.Error())
	}

	seen := make(map[int]string)
	for _, container := range p.ContainerPlans {
		for _, inst := range container.Instances {
			if prev, ok := seen[inst.TaskID]; ok {
				return errors.InvalidPlan(fmt.Sprintf(
					"task %d is packed twice (%s and %s)", inst.TaskID, prev, inst.ComponentName))
			}
			seen[inst.TaskID] = inst.ComponentName
		}
	}
	return nil
}

// Parallelism counts the packed instances per operator.
func (p *PackingPlan) Parallelism() map[string]int {
	counts := make(map[string]int)
	for _, container := range p.ContainerPlans {
		for _, inst := range container.Instances {
			counts[inst.ComponentName]++
		}
	}
	return counts
}

// Tasks returns every packed task id per operator, each list sorted.
func (p *PackingPlan) Tasks() map[string][]int {
	tasks := make(map[string][]int)
	for _, container := range p.ContainerPlans {
		for _, inst := range container.Instances {
			tasks[inst.ComponentName] = append(tasks[inst.ComponentName], inst.TaskID)
		}
	}
	for _, ids := range tasks {
		sort.Ints(ids)
	}
	return tasks
}

// MaxResources returns the largest CPU, RAM and disk allocation any packed
// instance of the operator carries. Plans normally allocate uniformly per
// operator, so this is the operator's allocation; mixed plans resolve to
// the most generous one.
func (p *PackingPlan) MaxResources(operator string) (Resources, bool) {
	var res Resources
	found := false
	for _, container := range p.ContainerPlans {
		for _, inst := range container.Instances {
			if inst.ComponentName != operator {
				continue
			}
			found = true
			if inst.InstanceResources.CPU > res.CPU {
				res.CPU = inst.InstanceResources.CPU
			}
			if inst.InstanceResources.RAM > res.RAM {
				res.RAM = inst.InstanceResources.RAM
			}
			if inst.InstanceResources.Disk > res.Disk {
				res.Disk = inst.InstanceResources.Disk
			}
		}
	}
	return res, found
}

// Clone returns a deep copy of the plan, safe to mutate.
func (p *PackingPlan) Clone() PackingPlan {
	out := PackingPlan{ContainerPlans: make([]ContainerPlan, len(p.ContainerPlans))}
	for i, container := range p.ContainerPlans {
		copied := container
		copied.Instances = append([]InstancePlan(nil), container.Instances...)
		out.ContainerPlans[i] = copied
	}
	return out
}
