package topology

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kbukum/streamsight/errors"
)

// InstanceName identifies one running operator instance. The wire form is
// container_<container>_<operator>_<task>. Operator names may themselves
// contain underscores, so parsing anchors on both ends.
type InstanceName struct {
	Container int
	Operator  string
	Task      int
}

// String renders the wire form of the instance name.
func (n InstanceName) String() string {
	return fmt.Sprintf("container_%d_%s_%d", n.Container, n.Operator, n.Task)
}

// ParseInstanceName splits an instance name from a plan document into its
// container index, operator name and task identifier.
func ParseInstanceName(name string) (InstanceName, error) {
	parts := strings.Split(name, "_")
	if len(parts) < 4 || parts[0] != "container" {
		return InstanceName{}, errors.StructuralInconsistency(
			fmt.Sprintf("instance name %q is not of the form container_<n>_<operator>_<task>", name))
	}

	container, err := strconv.Atoi(parts[1])
	if err != nil {
		return InstanceName{}, errors.StructuralInconsistency(
			fmt.Sprintf("instance name %q has a non-numeric container index", name)).WithCause(err)
	}
	task, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return InstanceName{}, errors.StructuralInconsistency(
			fmt.Sprintf("instance name %q has a non-numeric task id", name)).WithCause(err)
	}

	return InstanceName{
		Container: container,
		Operator:  strings.Join(parts[2:len(parts)-1], "_"),
		Task:      task,
	}, nil
}
