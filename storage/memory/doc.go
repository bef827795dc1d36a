// Package memory provides an in-memory implementation of the credential storage interfaces.
//
// This package implements TokenStore, TenantStore and TenantAdmin using Go's
// built-in maps with mutex protection for thread safety. It is suitable for
// development, testing, and single-instance deployments where persistence is
// not required.
//
// Features:
//   - Thread-safe operations using sync.RWMutex; Upsert merges under the write lock
//   - Optional encryption of access and refresh tokens via a SecretCodec
//   - OpenTelemetry spans and storage metrics
//
// For multi-instance deployments use storage/redisstore or storage/database.
//
// Example usage:
//
//	store := memory.New()
//
//	_ = store.SaveOAuthConfig(ctx, &storage.TenantOAuthConfig{TenantID: "acme", ...})
//	_ = store.SaveMembership(ctx, &storage.Membership{PrincipalID: "u1", TenantID: "acme"})
package memory
