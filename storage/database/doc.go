// Package database provides a SQL implementation of the storage interfaces on
// top of gorm, with MySQL for production and SQLite for single-node setups and
// tests.
//
// The schema is migrated on startup:
//
//	oauth_token_records   one row per (principal, tenant), tokens encrypted when a codec is set
//	oauth_tenant_configs  tenant OAuth clients
//	tenant_memberships    principal to tenant links with normalized email
//
// Upsert takes the row lock inside a transaction before merging, so concurrent
// writers to the same record are serialized by the database.
//
// # Usage
//
//	store, err := database.Open(database.Config{
//		Driver: database.DriverMySQL,
//		DSN:    database.MySQLDSN("oauth", password, "127.0.0.1", 3306, "oauth"),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
package database
