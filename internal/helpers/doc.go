// Package helpers provides IP classification shared by the guard packages.
//
// Key utilities:
//   - ClassifyIP: Classifies IP addresses (public, private, loopback, link-local, unspecified)
//   - IsInternalHost: Reports URL hostnames that point into internal networks
//   - IsLoopbackHostname: Checks if a hostname represents a loopback address
package helpers
