// Package ceremony adapts the platform credential API behind a small
// interface and converts its exception-shaped failures into typed
// outcomes. It also hosts the local confirmation step for time-based
// code enrollment.
package ceremony
