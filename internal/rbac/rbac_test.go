package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer write", role: RoleViewer, action: ActionWrite, allow: false},
		{name: "viewer schedule", role: RoleViewer, action: ActionSchedule, allow: false},
		{name: "planner write", role: RolePlanner, action: ActionWrite, allow: true},
		{name: "planner schedule", role: RolePlanner, action: ActionSchedule, allow: true},
		{name: "planner admin", role: RolePlanner, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "unknown role", role: Role("ghost"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("planner"); got != RolePlanner {
		t.Errorf("Normalize(planner) = %q", got)
	}
	if got := Normalize("superuser"); got != RoleViewer {
		t.Errorf("Normalize(superuser) = %q, want viewer", got)
	}
}
