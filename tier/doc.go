// Package tier holds the static operation sensitivity table consulted
// before any gated application operation. The table is configuration data:
// it is populated once at startup, frozen, and never mutated again, which
// keeps authorization checks pure functions of the table and the session's
// assurance level.
package tier
