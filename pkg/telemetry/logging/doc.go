// Package logging builds the process-wide slog logger from
// configuration: level and format parsing with JSON and text handlers.
// Components receive the logger by injection and scope it with
// component attributes.
package logging
