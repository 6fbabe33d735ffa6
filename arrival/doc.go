// Package arrival propagates source output rates through a topology
// snapshot to predict the arrival rate at every instance. The propagation
// walks the flow levels top down: each level's output rates follow from its
// accumulated arrivals and the fitted I/O coefficients, and each outgoing
// connection contributes output rate times routing probability to the
// destination's arrivals. Missing coefficients and probabilities contribute
// zero rather than failing, so a sparse estimate degrades the prediction
// instead of blocking it.
package arrival
