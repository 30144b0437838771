// Package jwt verifies authority-issued session assertions. The client
// side never mints tokens, so the package exposes verification only.
package jwt
