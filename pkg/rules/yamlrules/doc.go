// Package yamlrules is the YAML rule dialect front end. It parses rule
// files into the normalized rule IR; the evaluator never sees YAML.
//
// A rule file looks like:
//
//	rules:
//	  - name: dedup-emails
//	    priority: 10
//	    condition:
//	      all:
//	        - field: action.action_type
//	          eq: send_email
//	        - field: action.payload.to
//	          ends_with: "@example.com"
//	    action:
//	      type: deduplicate
//	      ttl_seconds: 300
//
// Conditions are a single predicate or an all/any group, nestable.
// Predicates check an action field, a state_seen key, or a
// state_counter value. Multiple operators on one predicate combine
// with AND.
//
// The Watcher reloads a rule directory on file change, replacing the
// engine's rule set atomically.
package yamlrules
