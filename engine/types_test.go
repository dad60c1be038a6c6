package engine

import (
	"errors"
	"testing"
)

func TestRoleString(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleHomogeneous, "homogeneous"},
		{RoleAdversary, "adversary"},
		{RoleGood, "good"},
		{Role(9), "role(9)"},
	}
	for _, tt := range tests {
		if got := tt.role.String(); got != tt.want {
			t.Errorf("Role(%d).String() = %q, want %q", uint8(tt.role), got, tt.want)
		}
		if tt.role > RoleGood {
			continue
		}
		back, err := ParseRole(tt.want)
		if err != nil || back != tt.role {
			t.Errorf("ParseRole(%q) = %v, %v; want %v", tt.want, back, err, tt.role)
		}
	}
}

func TestSASizeInput(t *testing.T) {
	if got := (SASize{State: 10, Action: 5}).Input(); got != 15 {
		t.Errorf("Input() = %d, want 15", got)
	}
}

func TestErrorKinds(t *testing.T) {
	cfg := ConfigErrorf("bad %s", "ratio")
	if !errors.Is(cfg, ErrConfig) || errors.Is(cfg, ErrConsistency) {
		t.Errorf("ConfigErrorf kind wrong: %v", cfg)
	}
	if cfg.Error() != "configuration error: bad ratio" {
		t.Errorf("ConfigErrorf message = %q", cfg.Error())
	}
	cons := ConsistencyErrorf("agent %d missing", 3)
	if !errors.Is(cons, ErrConsistency) || errors.Is(cons, ErrConfig) {
		t.Errorf("ConsistencyErrorf kind wrong: %v", cons)
	}
}
