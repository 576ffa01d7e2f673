// Package logging builds the zap loggers used across the host.
//
// Production output is JSON, development output is colored console text.
// Components derive a child with Named so each line names its writer, and
// code running inside an extension logs through ForExtension.
package logging
