package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin            UserRole = "ADMIN"
	RoleBridgeTeam       UserRole = "BRIDGE_TEAM"
	RoleMentorshipLeader UserRole = "MENTORSHIP_LEADER"
	RoleMentor           UserRole = "MENTOR"
)

// StaffRoles lists every role allowed to work participant records.
var StaffRoles = []UserRole{RoleAdmin, RoleBridgeTeam, RoleMentorshipLeader, RoleMentor}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}
