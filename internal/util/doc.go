// Package util provides string helpers used across the guard module.
//
// Key utilities:
//   - SafeTruncate: Truncates strings for logging without splitting a UTF-8 sequence
//   - TruncateRunes: Truncates strings to a number of characters
package util
