// Package action defines the core identity and result types that flow
// through the dispatch pipeline: the Action itself, the composite Key
// used for locking and deduplication scope, and the closed Outcome set
// returned from every dispatch call.
package action
