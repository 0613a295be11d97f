package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer view reports", role: RoleViewer, action: ActionViewReports, allow: true},
		{name: "viewer create donor", role: RoleViewer, action: ActionCreateDonor, allow: false},
		{name: "viewer comment template", role: RoleViewer, action: ActionCommentTemplate, allow: false},
		{name: "user edit donor", role: RoleUser, action: ActionEditDonor, allow: true},
		{name: "user delete donor", role: RoleUser, action: ActionDeleteDonor, allow: false},
		{name: "user create template", role: RoleUser, action: ActionCreateTemplate, allow: true},
		{name: "user manage collaborators", role: RoleUser, action: ActionManageCollaborators, allow: false},
		{name: "manager edit campaign", role: RoleManager, action: ActionEditCampaign, allow: true},
		{name: "manager delete campaign", role: RoleManager, action: ActionDeleteCampaign, allow: false},
		{name: "manager export data", role: RoleManager, action: ActionExportData, allow: true},
		{name: "manager manage users", role: RoleManager, action: ActionManageUsers, allow: false},
		{name: "admin delete campaign", role: RoleAdmin, action: ActionDeleteCampaign, allow: true},
		{name: "admin manage organization", role: RoleAdmin, action: ActionManageOrganization, allow: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestAdminCanPerformEveryAction(t *testing.T) {
	for _, action := range Actions() {
		if !Can(RoleAdmin, action) {
			t.Fatalf("admin denied %q", action)
		}
	}
}

func TestUnknownActionDeniesEveryRole(t *testing.T) {
	for _, role := range Roles() {
		if Can(role, Action("launch_rocket")) {
			t.Fatalf("unknown action allowed for %q", role)
		}
	}
}

func TestCanIsTotal(t *testing.T) {
	// Every (action, role) pair must produce a decision without panicking,
	// including roles outside the known set.
	for _, action := range Actions() {
		for _, role := range append(Roles(), Role("intern")) {
			_ = Can(role, action)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("manager"); got != RoleManager {
		t.Fatalf("Normalize(manager) = %q", got)
	}
	if got := Normalize("superuser"); got != RoleViewer {
		t.Fatalf("Normalize(superuser) = %q, want viewer", got)
	}
}
