package tenant

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("tenant: not found")
	// ErrAlreadyExists indicates a uniqueness conflict (slug, invite code).
	ErrAlreadyExists = errors.New("tenant: already exists")
	// ErrInvalidInput indicates malformed or missing input.
	ErrInvalidInput = errors.New("tenant: invalid input")

	// ErrTenantRequired indicates a tenant selector is mandatory for the
	// request but was not supplied.
	ErrTenantRequired = errors.New("tenant: tenant context required")
	// ErrNotAMember indicates the user has no active membership in the
	// selected tenant.
	ErrNotAMember = errors.New("tenant: not a member")
	// ErrRoleMissing indicates the membership references a role that no
	// longer exists in the tenant.
	ErrRoleMissing = errors.New("tenant: role missing")
	// ErrForbidden indicates the resolved permission set does not contain
	// the required permission.
	ErrForbidden = errors.New("tenant: forbidden")
)
