// Package logging wraps zap for orchestrd.
//
// Loggers are built from Config and write JSON or console output to stdout,
// optionally teeing to an OpenTelemetry log provider through otelzap. String
// fields whose key or value looks sensitive are redacted at encode time, and
// everything below error level is sampled per level.
//
// Context-aware methods add correlation fields automatically:
//
//	ctx = logging.WithWorkflowID(ctx, "wf-42")
//	logger.Info(ctx, "phase completed", zap.String("node", "coder"))
//
//	{"level":"info","msg":"phase completed","workflow_id":"wf-42","node":"coder","trace_id":"..."}
//
// Packages that take a plain *zap.Logger get one from Logger.Underlying.
package logging
