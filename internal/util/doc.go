// Package util provides small helpers shared by the tenant-oauth packages.
//
// Key utilities:
//   - SafeTruncate: truncates provider error bodies before they are logged
//   - NormalizeEmail: canonical form used for administrator and login-hint matching
//   - ParseScope: splits an OAuth scope string into a deduplicated list
package util
