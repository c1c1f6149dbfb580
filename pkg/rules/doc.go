// Package rules defines the rule intermediate representation and the
// engine that evaluates rules against an action to produce a verdict.
//
// Front-end dialects (see the yamlrules subpackage) compile their
// source into the closed Expr and RuleAction sets defined here; the
// evaluator never inspects dialect-specific syntax. Rules are ordered
// by ascending priority with declaration order breaking ties, the first
// enabled rule whose condition holds is terminal, and a single
// malformed rule never aborts an evaluation pass.
package rules
