// Package testutil provides a controllable clock, record fixtures and
// assertions for the authentication-api tests.
package testutil
