// Package rbac maps (role, action) pairs to allow/deny decisions.
//
// Grants are not monotonic in role seniority (a manager may edit campaigns
// but not delete them), so the mapping is an explicit per-action allow-set
// rather than a role threshold. Unknown actions always deny.
package rbac

type Role string
type Action string

const (
	RoleViewer  Role = "viewer"
	RoleUser    Role = "user"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

const (
	ActionCreateDonor Action = "create_donor"
	ActionEditDonor   Action = "edit_donor"
	ActionDeleteDonor Action = "delete_donor"

	ActionCreateCampaign Action = "create_campaign"
	ActionEditCampaign   Action = "edit_campaign"
	ActionDeleteCampaign Action = "delete_campaign"

	ActionCreateTemplate Action = "create_template"
	ActionEditTemplate   Action = "edit_template"
	ActionDeleteTemplate Action = "delete_template"

	ActionCommentTemplate     Action = "comment_template"
	ActionManageCollaborators Action = "manage_collaborators"

	ActionManageUsers        Action = "manage_users"
	ActionManageOrganization Action = "manage_organization"

	ActionViewReports Action = "view_reports"
	ActionExportData  Action = "export_data"
	ActionImportData  Action = "import_data"
)

type roleSet map[Role]struct{}

func roles(list ...Role) roleSet {
	set := make(roleSet, len(list))
	for _, r := range list {
		set[r] = struct{}{}
	}
	return set
}

var grants = map[Action]roleSet{
	ActionCreateDonor: roles(RoleUser, RoleManager, RoleAdmin),
	ActionEditDonor:   roles(RoleUser, RoleManager, RoleAdmin),
	ActionDeleteDonor: roles(RoleManager, RoleAdmin),

	ActionCreateCampaign: roles(RoleManager, RoleAdmin),
	ActionEditCampaign:   roles(RoleManager, RoleAdmin),
	ActionDeleteCampaign: roles(RoleAdmin),

	ActionCreateTemplate: roles(RoleUser, RoleManager, RoleAdmin),
	ActionEditTemplate:   roles(RoleUser, RoleManager, RoleAdmin),
	ActionDeleteTemplate: roles(RoleAdmin),

	ActionCommentTemplate:     roles(RoleUser, RoleManager, RoleAdmin),
	ActionManageCollaborators: roles(RoleManager, RoleAdmin),

	ActionManageUsers:        roles(RoleAdmin),
	ActionManageOrganization: roles(RoleAdmin),

	ActionViewReports: roles(RoleViewer, RoleUser, RoleManager, RoleAdmin),
	ActionExportData:  roles(RoleManager, RoleAdmin),
	ActionImportData:  roles(RoleManager, RoleAdmin),
}

// Can reports whether role may perform action. Actions outside the catalog
// are denied for every role.
func Can(role Role, action Action) bool {
	allowed, ok := grants[action]
	if !ok {
		return false
	}
	_, ok = allowed[role]
	return ok
}

// Actions returns the full action catalog.
func Actions() []Action {
	out := make([]Action, 0, len(grants))
	for action := range grants {
		out = append(out, action)
	}
	return out
}

// Roles returns every known role.
func Roles() []Role {
	return []Role{RoleViewer, RoleUser, RoleManager, RoleAdmin}
}

// Normalize maps an arbitrary role string onto a known role, defaulting to
// the least-privileged one.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleUser, RoleManager, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
