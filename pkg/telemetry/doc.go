// Package telemetry provides the observability plumbing of the resource.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry) and
// metrics (Prometheus) behind a single Telemetry value that is created once
// per invocation and handed to every pipeline component.
//
// Stdout belongs to the resource protocol, so every sink defaults to stderr:
// log lines, pretty-printed spans when the "stderr" trace exporter is used,
// and nothing at all for metrics, which are pushed to a pushgateway or
// written to a node_exporter textfile when the run finishes.
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	stage := tel.StartStage(ctx, "inventory")
//	err = build(stage.Ctx)
//	stage.End(err)
package telemetry
