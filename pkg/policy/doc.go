// Package policy guards put runs with Open Policy Agent rules.
//
// Before the engine starts, the resolved run (playbook, inventory, source
// location and the non-secret engine options) is evaluated against every
// enabled Rego policy. Each policy contributes a deny set:
//
//	package playbook.guard
//
//	deny contains msg if {
//		input.options.become
//		input.options.limit == ""
//		msg := "privileged runs must set a limit"
//	}
//
// A deny entry is either a string or an object with message and severity.
// Entries of severity error or critical block the run; info and warning
// entries are logged. Policies loaded from .rego files default to the
// severity named in a "# severity:" header comment, or warning.
//
// Secrets never reach the policy input: options only report whether a
// private key or vault password is present.
package policy
