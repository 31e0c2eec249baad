// Package logx is a thin zerolog wrapper shared by all unionbot packages.
//
// It keeps call sites terse (logx.String, logx.Err, ...) while letting the
// sink configuration (console, file, level) change at runtime without
// re-plumbing loggers through every component.
package logx
