// Package middleware provides net/http middleware that gates routes
// behind the coordinator's tiered authorization checks.
package middleware
