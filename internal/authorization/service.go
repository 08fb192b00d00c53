package authorization

import "context"

// GlobalDomain grants a role on every scope.
const GlobalDomain = "*"

type Service interface {
	// Authorize returns ErrForbidden unless actor may perform action on
	// object inside domain. Domains are scope keys such as
	// "organization:42" or GlobalDomain.
	Authorize(ctx context.Context, actor string, domain string, object string, action string) error
	AssignRole(ctx context.Context, actor string, role string, domain string) error
	RevokeRole(ctx context.Context, actor string, role string, domain string) error
}
