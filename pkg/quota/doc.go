// Package quota defines tenant quota policies: how many actions a
// tenant may dispatch per time window and what happens on overage.
// Enforcement lives in the dispatch pipeline; this package owns the
// policy shape, window arithmetic and counter key derivation.
package quota
