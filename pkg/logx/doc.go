// Package logx is a thin structured-logging layer over zerolog.
//
// It exposes a small Logger value with functional Field helpers so call
// sites read as:
//
//	log.Info("job completed", logx.String("job", name), logx.Duration("dur", d))
//
// The zero Logger is a safe no-op, which lets libraries take a Logger by
// value without nil checks. Service owns the configured sinks (console
// and/or file) and can swap them at runtime via Apply.
package logx
