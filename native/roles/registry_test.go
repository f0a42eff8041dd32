package roles

import (
	"errors"
	"testing"
)

type memStore struct {
	members map[string][][]byte
}

func newMemStore() *memStore {
	return &memStore{members: make(map[string][][]byte)}
}

func (s *memStore) RoleMembersGet(role string) ([][]byte, error) {
	return s.members[role], nil
}

func (s *memStore) RoleMembersPut(role string, members [][]byte) error {
	s.members[role] = members
	return nil
}

func addr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestBootstrapIsOneShot(t *testing.T) {
	registry := NewRegistry(newMemStore())
	root := addr(0x01)

	if err := registry.Bootstrap(root); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !registry.HasCapability(root, RoleRoot) {
		t.Fatal("root must hold ROLE_ROOT after bootstrap")
	}
	if err := registry.Bootstrap(addr(0x02)); !errors.Is(err, ErrBootstrapped) {
		t.Fatalf("second bootstrap: got %v, want ErrBootstrapped", err)
	}
	if registry.HasCapability(addr(0x02), RoleRoot) {
		t.Fatal("second bootstrap must not grant ROLE_ROOT")
	}
}

func TestGrantRequiresAdministeringCapability(t *testing.T) {
	registry := NewRegistry(newMemStore())
	root := addr(0x01)
	keeper := addr(0x02)
	stranger := addr(0x03)
	if err := registry.Bootstrap(root); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	if err := registry.Grant(stranger, RoleKeeper, keeper); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("grant by stranger: got %v, want ErrUnauthorized", err)
	}
	if err := registry.Grant(root, "ROLE_BOGUS", keeper); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("unknown role: got %v, want ErrUnknownRole", err)
	}
	if err := registry.Grant(root, RoleKeeper, keeper); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !registry.HasCapability(keeper, RoleKeeper) {
		t.Fatal("keeper must hold ROLE_KEEPER after grant")
	}
	// A keeper does not administer ROLE_KEEPER and cannot pass it on.
	if err := registry.Grant(keeper, RoleKeeper, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("grant by keeper: got %v, want ErrUnauthorized", err)
	}
	// Granting twice is a no-op, not an error.
	if err := registry.Grant(root, RoleKeeper, keeper); err != nil {
		t.Fatalf("repeat grant: %v", err)
	}
	members, err := registry.Members(RoleKeeper)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 1 || members[0] != keeper {
		t.Fatalf("members = %v", members)
	}
}

func TestRevoke(t *testing.T) {
	registry := NewRegistry(newMemStore())
	root := addr(0x01)
	manager := addr(0x02)
	if err := registry.Bootstrap(root); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := registry.Grant(root, RoleManager, manager); err != nil {
		t.Fatalf("grant: %v", err)
	}

	if err := registry.Revoke(manager, RoleManager, manager); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("self-revoke without admin: got %v, want ErrUnauthorized", err)
	}
	if err := registry.Revoke(root, RoleManager, manager); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if registry.HasCapability(manager, RoleManager) {
		t.Fatal("capability must be gone after revoke")
	}
	// Revoking a role the member does not hold is a no-op.
	if err := registry.Revoke(root, RoleManager, manager); err != nil {
		t.Fatalf("repeat revoke: %v", err)
	}
}

func TestRoleNamesAreCaseInsensitive(t *testing.T) {
	registry := NewRegistry(newMemStore())
	root := addr(0x01)
	keeper := addr(0x02)
	if err := registry.Bootstrap(root); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := registry.Grant(root, "role_keeper", keeper); err != nil {
		t.Fatalf("lowercase grant: %v", err)
	}
	if !registry.HasCapability(keeper, " ROLE_KEEPER ") {
		t.Fatal("capability lookup must normalise role names")
	}
}
