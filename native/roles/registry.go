package roles

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Capability names recognised by the engines. ROLE_ROOT administers every
// other capability; the delegation is an explicit mapping, not a hierarchy.
const (
	RoleRoot      = "ROLE_ROOT"
	RoleAdmin     = "ROLE_ADMIN"
	RoleEmergency = "ROLE_EMERGENCY"
	RoleKeeper    = "ROLE_KEEPER"
	RoleManager   = "ROLE_MANAGER"
	RoleCompany   = "ROLE_COMPANY"
)

var (
	ErrUnknownRole  = errors.New("roles: unknown role")
	ErrUnauthorized = errors.New("roles: unauthorized")
	ErrBootstrapped = errors.New("roles: root already bootstrapped")
)

// Store abstracts the persistence required by the registry. Member lists are
// stored per role.
type Store interface {
	RoleMembersGet(role string) ([][]byte, error)
	RoleMembersPut(role string, members [][]byte) error
}

// Registry owns capability grants. Each role is administered by exactly one
// other role; granting or revoking a role requires the caller to hold the
// administering capability.
type Registry struct {
	mu     sync.RWMutex
	store  Store
	admins map[string]string
}

// NewRegistry constructs a registry with the default delegation map: ROLE_ROOT
// administers itself and every other capability.
func NewRegistry(store Store) *Registry {
	return &Registry{
		store: store,
		admins: map[string]string{
			RoleRoot:      RoleRoot,
			RoleAdmin:     RoleRoot,
			RoleEmergency: RoleRoot,
			RoleKeeper:    RoleRoot,
			RoleManager:   RoleRoot,
			RoleCompany:   RoleRoot,
		},
	}
}

// Bootstrap grants ROLE_ROOT to the supplied address. It may only run while no
// root member exists, so a restarted daemon cannot silently replace the root
// authority.
func (r *Registry) Bootstrap(member [20]byte) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("roles: registry not initialised")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	members, err := r.store.RoleMembersGet(RoleRoot)
	if err != nil {
		return err
	}
	if len(members) > 0 {
		return ErrBootstrapped
	}
	return r.store.RoleMembersPut(RoleRoot, [][]byte{member[:]})
}

// Grant adds member to the role. The caller must hold the capability that
// administers the role. Granting an already-held role is a no-op.
func (r *Registry) Grant(caller [20]byte, role string, member [20]byte) error {
	return r.mutate(caller, role, member, true)
}

// Revoke removes member from the role under the same delegation rules as
// Grant. Revoking a role the member does not hold is a no-op.
func (r *Registry) Revoke(caller [20]byte, role string, member [20]byte) error {
	return r.mutate(caller, role, member, false)
}

func (r *Registry) mutate(caller [20]byte, role string, member [20]byte, add bool) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("roles: registry not initialised")
	}
	normalized := strings.ToUpper(strings.TrimSpace(role))
	r.mu.Lock()
	defer r.mu.Unlock()
	admin, ok := r.admins[normalized]
	if !ok {
		return ErrUnknownRole
	}
	if !r.hasCapability(caller, admin) {
		return ErrUnauthorized
	}
	members, err := r.store.RoleMembersGet(normalized)
	if err != nil {
		return err
	}
	idx := -1
	for i, existing := range members {
		if bytes.Equal(existing, member[:]) {
			idx = i
			break
		}
	}
	if add {
		if idx >= 0 {
			return nil
		}
		members = append(members, append([]byte(nil), member[:]...))
	} else {
		if idx < 0 {
			return nil
		}
		members = append(members[:idx], members[idx+1:]...)
	}
	return r.store.RoleMembersPut(normalized, members)
}

// HasCapability reports whether the address holds the named capability. Errors
// while reading the underlying state result in a false return, matching the
// best-effort semantics required by the engine guards.
func (r *Registry) HasCapability(addr [20]byte, role string) bool {
	if r == nil || r.store == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasCapability(addr, strings.ToUpper(strings.TrimSpace(role)))
}

func (r *Registry) hasCapability(addr [20]byte, role string) bool {
	members, err := r.store.RoleMembersGet(role)
	if err != nil {
		return false
	}
	for _, member := range members {
		if bytes.Equal(member, addr[:]) {
			return true
		}
	}
	return false
}

// Members returns the addresses currently holding the role.
func (r *Registry) Members(role string) ([][20]byte, error) {
	if r == nil || r.store == nil {
		return nil, fmt.Errorf("roles: registry not initialised")
	}
	normalized := strings.ToUpper(strings.TrimSpace(role))
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.admins[normalized]; !ok {
		return nil, ErrUnknownRole
	}
	raw, err := r.store.RoleMembersGet(normalized)
	if err != nil {
		return nil, err
	}
	members := make([][20]byte, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 20 {
			continue
		}
		var addr [20]byte
		copy(addr[:], entry)
		members = append(members, addr)
	}
	return members, nil
}
