package policy

// BuiltinPolicies returns the policies shipped with the resource. None of
// them blocks a run on its own.
func BuiltinPolicies() []Policy {
	return []Policy{
		plaintextSourcePolicy(),
		verboseOutputPolicy(),
		unlimitedRootPolicy(),
	}
}

// plaintextSourcePolicy flags playbooks fetched over unencrypted http.
func plaintextSourcePolicy() Policy {
	return Policy{
		Name:        "plaintext-source",
		Description: "Playbook repositories should not be fetched over plain http",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package playbook.builtin.source

deny contains violation if {
	input.source.fetched
	startswith(lower(input.source.uri), "http://")
	violation := {
		"message": sprintf("playbook source %s is fetched without TLS", [input.source.uri]),
		"severity": "warning",
	}
}
`,
	}
}

// verboseOutputPolicy flags verbosity levels that print connection details.
func verboseOutputPolicy() Policy {
	return Policy{
		Name:        "verbose-output",
		Description: "Connection debugging output can expose credentials in build logs",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package playbook.builtin.verbosity

deny contains violation if {
	input.options.verbosity >= 4
	violation := {
		"message": sprintf("verbosity %d prints connection debugging to the build log", [input.options.verbosity]),
		"severity": "warning",
	}
}
`,
	}
}

// unlimitedRootPolicy flags root runs against the whole inventory.
func unlimitedRootPolicy() Policy {
	return Policy{
		Name:        "unlimited-root",
		Description: "Privileged runs without a host limit reach every inventory host",
		Severity:    SeverityInfo,
		Enabled:     true,
		Rego: `package playbook.builtin.become

deny contains violation if {
	input.options.become
	input.options.become_user == "root"
	input.options.limit == ""
	not input.options.check
	violation := {
		"message": "become root without limit applies to every inventory host",
		"severity": "info",
	}
}
`,
	}
}
