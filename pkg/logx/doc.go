// Package logx configures oratio's structured logging.
//
// It wraps zerolog behind a small value-type Logger with functional
// fields and a Service that supports live reconfiguration: level and
// sink changes apply to every derived Logger without recreating them.
package logx
