// Package storage provides interfaces and utilities for credential persistence.
//
// The storage package defines the interfaces used throughout the credential manager:
//   - TokenStore: TokenRecords keyed by (principal, tenant), with merge-on-upsert
//   - TenantStore: read-only tenant OAuth client configuration and memberships
//   - RefreshLocker: optional cross-process refresh serialization
//
// This package also provides MergeRecord, the merge rule every backend applies on
// Upsert, and helpers to encrypt token fields at rest.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/mock: Failure-injecting mock for unit testing
//   - storage/redisstore: Redis-compatible distributed storage
//   - storage/database: Relational storage through gorm (MySQL, SQLite)
package storage
