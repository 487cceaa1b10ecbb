// Package security provides validation, sanitization, and limits for the
// taskmill engine.
package security
