// Package config turns the resource's source and params envelope into one
// canonical execution configuration.
//
// Each input mapping is coerced against a FieldSchema. Fields that fail to
// coerce are dropped and reported as FieldIssue values; the run goes on
// without them. Params override source field by field, except extra_vars,
// whose keys are unioned with params winning.
//
//	res := config.NewResolver(logger, metrics).
//		Resolve(source, params, config.SourceSchema, config.ParamsSchema)
//	paths := config.ResolvePaths(workDir, res.Config)
//	opts, err := config.NewOptions(res.Config, paths.Playbook, inventory, key)
//
// Settings configure the binary itself (telemetry, engine location, fetch
// and history) from a YAML file and PLAYBOOK_RESOURCE_* variables.
package config
