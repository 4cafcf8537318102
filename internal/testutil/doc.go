// Package testutil provides testing utilities for the guard module: a
// controllable clock, log capture, a webhook test server and HTTP request
// builders.
package testutil
