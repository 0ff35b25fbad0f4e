package auth

// Resource represents a protected resource class in the portal.
type Resource string

// Resource constants.
const (
	ResourceUsers      Resource = "users"
	ResourceProjects   Resource = "projects"
	ResourceFinance    Resource = "finance"
	ResourceRCMeetings Resource = "rcMeetings"
	ResourceDocuments  Resource = "documents"
	ResourceReports    Resource = "reports"
	ResourceSettings   Resource = "settings"
)

// Action represents an operation on a resource.
type Action string

// Action constants.
const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionApprove Action = "approve"
)

// allResources lists every resource, used to expand full-access grants.
var allResources = []Resource{
	ResourceUsers,
	ResourceProjects,
	ResourceFinance,
	ResourceRCMeetings,
	ResourceDocuments,
	ResourceReports,
	ResourceSettings,
}

// allActions lists every action.
var allActions = []Action{
	ActionCreate,
	ActionRead,
	ActionUpdate,
	ActionDelete,
	ActionApprove,
}

// rolePermissions maps each role to its granted resource actions.
// This is the single source of truth for the authorisation model.
// Anything not listed here is denied.
var rolePermissions = map[Role]map[Resource][]Action{
	RoleAdmin: fullAccess(),

	RoleDirector: {
		ResourceUsers:      {ActionRead},
		ResourceProjects:   {ActionRead, ActionApprove},
		ResourceFinance:    {ActionRead, ActionApprove},
		ResourceRCMeetings: {ActionRead, ActionApprove},
		ResourceDocuments:  {ActionRead},
		ResourceReports:    {ActionRead, ActionApprove},
	},

	RoleDirectorGeneral: {
		ResourceUsers:      {ActionRead},
		ResourceProjects:   {ActionRead, ActionApprove},
		ResourceFinance:    {ActionRead, ActionApprove},
		ResourceRCMeetings: {ActionRead, ActionApprove},
		ResourceDocuments:  {ActionRead},
		ResourceReports:    {ActionRead, ActionApprove},
	},

	RoleSupervisor: {
		ResourceUsers:      {ActionRead},
		ResourceProjects:   {ActionCreate, ActionRead, ActionUpdate, ActionApprove},
		ResourceFinance:    {ActionRead},
		ResourceRCMeetings: {ActionRead},
		ResourceDocuments:  {ActionRead},
		ResourceReports:    {ActionRead, ActionApprove},
	},

	RoleProjectHead: {
		ResourceProjects:   {ActionRead, ActionUpdate},
		ResourceFinance:    {ActionCreate, ActionRead},
		ResourceRCMeetings: {ActionRead},
		ResourceDocuments:  {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
		ResourceReports:    {ActionCreate, ActionRead},
	},

	RoleEmployee: {
		ResourceProjects:  {ActionRead},
		ResourceDocuments: {ActionCreate, ActionRead},
		ResourceReports:   {ActionRead},
	},

	RoleRCMember: {
		ResourceProjects:   {ActionRead},
		ResourceRCMeetings: {ActionCreate, ActionRead, ActionUpdate},
		ResourceDocuments:  {ActionRead},
		ResourceReports:    {ActionRead},
	},

	RoleExternalOwner: {
		ResourceProjects:  {ActionRead},
		ResourceDocuments: {ActionRead},
		ResourceReports:   {ActionRead},
	},
}

// fullAccess builds the grant set for roles with every action on every
// resource.
func fullAccess() map[Resource][]Action {
	grants := make(map[Resource][]Action, len(allResources))
	for _, res := range allResources {
		actions := make([]Action, len(allActions))
		copy(actions, allActions)
		grants[res] = actions
	}
	return grants
}

// Allows returns true if the role may perform the action on the resource.
// The function is total: unknown roles, resources or actions return false.
func Allows(role Role, resource Resource, action Action) bool {
	grants, ok := rolePermissions[role]
	if !ok {
		return false
	}
	for _, a := range grants[resource] {
		if a == action {
			return true
		}
	}
	return false
}

// AllowedActions returns the actions a role may perform on a resource.
// Returns nil when nothing is granted.
func AllowedActions(role Role, resource Resource) []Action {
	grants, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	actions := grants[resource]
	if actions == nil {
		return nil
	}
	result := make([]Action, len(actions))
	copy(result, actions)
	return result
}

// IsFullAccessRole reports whether the role sees every project row without
// visibility filtering.
func IsFullAccessRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleSupervisor, RoleDirector, RoleDirectorGeneral:
		return true
	default:
		return false
	}
}
