// Package logging provides structured logging for CTHz Fleet Core.
//
// It wraps log/slog with configuration-driven level, format and output
// selection plus default service attributes. Domain packages should not
// import this package directly; they declare a small Logger interface and
// accept any implementation, keeping them testable without log output.
package logging
