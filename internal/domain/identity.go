package domain

type Role string

const (
	RoleStudent     Role = "student"
	RoleTeacher     Role = "teacher"
	RoleParent      Role = "parent"
	RoleDriver      Role = "driver"
	RoleCoordinator Role = "busCoordinator"
	RoleAdmin       Role = "admin"
)

// IsOperator reports whether the role produces location events.
func (r Role) IsOperator() bool {
	return r == RoleDriver
}

// Identity is the resolved, already verified principal behind a connection.
type Identity struct {
	SubjectID string `json:"subjectId"`
	Name      string `json:"name,omitempty"`
	Role      Role   `json:"role"`
	SpaceID   string `json:"spaceId"`
}

func (i *Identity) Valid() bool {
	return i != nil && i.SubjectID != "" && i.Role != ""
}

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

type PresenceUpdate struct {
	EntityID string         `json:"entityId"`
	Status   PresenceStatus `json:"status"`
}
