// Package redisstore provides a Redis-backed implementation of the storage
// interfaces, for deployments where several processes share credentials.
//
// Besides TokenStore, TenantStore and TenantAdmin, the store implements
// storage.RefreshLocker so a refresh flight is also serialized across
// processes, not only within one.
//
// # Key Layout
//
// All keys carry the configured prefix (default "tenantoauth:"). Every id is
// written with its byte length in front ("4:acme"), so ids may contain ":".
//
//	token:{tenant}:{principal}    credential record (JSON, tokens encrypted when a codec is set)
//	tenant:{tenant}:tokens        sorted set of principals scored by record creation time
//	tenant:{tenant}:config        tenant OAuth client (JSON)
//	tenant:{tenant}:members       hash of normalized email -> principal
//	membership:{principal}        hash of tenant -> membership (JSON)
//	lock:{tenant}:{principal}     refresh lock (SET NX PX, owner token)
//
// # Atomicity
//
// Upsert reads, merges and writes inside a WATCH/MULTI transaction and retries
// when another writer touched the record in between. The merge runs in Go so the
// same rules and encryption apply as in the other backends.
//
// # Usage
//
//	store, err := redisstore.New(redisstore.Config{
//		Address: "localhost:6379",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
// For tests or custom clients (Sentinel, cluster) use NewWithClient.
package redisstore
