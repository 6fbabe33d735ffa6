// Package traffic supplies the source output rates that seed rate
// propagation. Current averages measured emit counts over a window, Static
// carries a hypothesized rate document from the caller, and Summarizer
// reduces historical source emit counts to descriptive statistics for the
// traffic endpoints.
package traffic
