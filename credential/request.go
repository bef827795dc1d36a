package credential

import "fmt"

// Request selects the identity a credential is resolved for.
// Build it with ByPrincipal or TenantAdministrative.
type Request struct {
	tenantID       string
	principalID    string
	administrative bool
}

// ByPrincipal requests the credential of principalID within tenantID.
func ByPrincipal(tenantID, principalID string) Request {
	return Request{tenantID: tenantID, principalID: principalID}
}

// TenantAdministrative requests the credential of the tenant's designated
// administrator, for work not done on behalf of a specific user.
func TenantAdministrative(tenantID string) Request {
	return Request{tenantID: tenantID, administrative: true}
}

// TenantID returns the tenant of the request
func (r Request) TenantID() string { return r.tenantID }

// PrincipalID returns the principal, empty for administrative requests
func (r Request) PrincipalID() string { return r.principalID }

// Administrative reports whether this is a TenantAdministrative request
func (r Request) Administrative() bool { return r.administrative }

func (r Request) String() string {
	if r.administrative {
		return fmt.Sprintf("TenantAdministrative(%s)", r.tenantID)
	}
	return fmt.Sprintf("ByPrincipal(%s, %s)", r.tenantID, r.principalID)
}

func (r Request) validate() error {
	if r.tenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if !r.administrative && r.principalID == "" {
		return fmt.Errorf("principal id is required; use TenantAdministrative for tenant-level access")
	}
	return nil
}
