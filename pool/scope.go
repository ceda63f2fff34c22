package pool

import (
	"fmt"
	"net"
	"strings"
)

// Scope is the pool partition key: one logical service talking to one
// destination authority. Value semantics; used directly as a map key.
type Scope struct {
	Service   string
	Authority string
}

// ResolveScope derives the pooling scope for a request. The authority
// must be a host:port pair. An empty service falls back to the
// authority so ad-hoc requests still pool per destination.
func ResolveScope(service, authority string) (Scope, error) {
	host, port, err := net.SplitHostPort(authority)
	if err != nil {
		return Scope{}, fmt.Errorf("resolve scope: invalid authority %q: %w", authority, err)
	}
	if host == "" || port == "" {
		return Scope{}, fmt.Errorf("resolve scope: invalid authority %q: empty host or port", authority)
	}

	service = strings.TrimSpace(service)
	if service == "" {
		service = authority
	}
	return Scope{Service: service, Authority: authority}, nil
}

func (s Scope) String() string {
	return s.Service + "|" + s.Authority
}
