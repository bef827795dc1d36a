// Package security provides the security primitives of the credential manager:
// secret encryption, key derivation, expiry checks with clock skew, and audit
// logging.
//
// # Secret Codec
//
// SecretCodec is the opaque encrypt/decrypt collaborator used for tenant client
// secrets and, optionally, for tokens at rest. Encryptor implements it with
// AES-256-GCM. Key management is out of scope; DeriveKey splits one master key
// into independent per-purpose keys so a leaked token key does not expose
// tenant client secrets:
//
//	master, _ := security.KeyFromBase64(os.Getenv("CREDENTIALS_MASTER_KEY"))
//	secretKey, _ := security.DeriveKey(master, security.PurposeClientSecrets)
//	codec, _ := security.NewEncryptor(secretKey)
//
// # Expiry
//
// IsExpired treats a token as expired slightly before its stated expiry so that
// a token is never handed out with less than the skew margin left.
//
// # Audit
//
// Auditor writes security_audit records through slog with principal ids hashed.
package security
