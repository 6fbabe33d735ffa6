// Package recommend revises a topology's packing plan from observed
// resource pressure. A resource pass scales CPU where load crosses the
// threshold and RAM where garbage collection time does, and adjusts the
// expected service rates of the affected instances; a parallelism pass then
// raises instance counts where the summed arrival rate outruns the slowest
// adjusted instance. Allocations and parallelism are only ever raised.
package recommend
