// Package util holds small string helpers shared by the service packages,
// mainly for keeping credentials out of log lines.
package util
