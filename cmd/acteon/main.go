// Acteon is a multi-tenant action dispatch gateway.
//
// It accepts actions, coordinates them through a distributed state
// store, evaluates them against a prioritized rule set, and executes
// the survivors against configured providers, producing one auditable
// outcome per action.
//
// Usage:
//
//	# Start the gateway with the default configuration
//	acteon run
//
//	# Start with a custom configuration file
//	acteon run --config /etc/acteon/config.yaml
//
//	# Validate configuration and rule files without starting
//	acteon validate
//
//	# Show version information
//	acteon version
package main

func main() {
	Execute()
}
