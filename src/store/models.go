package store

import (
	"time"

	"github.com/orchestra-mcp/nexus/src/types"
)

// KnowledgeNode is a row of knowledge_nodes.
type KnowledgeNode struct {
	ID           string  `gorm:"primaryKey;size:64"`
	Name         string  `gorm:"not null"`
	Subject      string  `gorm:"not null"`
	Exam         string  `gorm:"not null;index"`
	PositionX    float64 `gorm:"not null;default:0"`
	PositionY    float64 `gorm:"not null;default:0"`
	PositionZ    float64 `gorm:"not null;default:0"`
	ContentCount int     `gorm:"not null;default:0"`
	Status       string  `gorm:"not null;default:green"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (KnowledgeNode) TableName() string { return "knowledge_nodes" }

// NodeConnection is a directed edge of the knowledge graph.
type NodeConnection struct {
	ID         uint   `gorm:"primaryKey"`
	FromNodeID string `gorm:"not null;index"`
	ToNodeID   string `gorm:"not null"`
}

func (NodeConnection) TableName() string { return "node_connections" }

// GoalRoom is a row of goal_rooms.
type GoalRoom struct {
	ID            string `gorm:"primaryKey;size:64"`
	Name          string `gorm:"not null"`
	Exam          string `gorm:"not null;index"`
	MemberCount   int    `gorm:"not null;default:0"`
	ContentCount  int    `gorm:"not null;default:0"`
	ActivityLevel string `gorm:"not null;default:medium"`
	Description   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (GoalRoom) TableName() string { return "goal_rooms" }

// User is a row of users.
type User struct {
	ID        string  `gorm:"primaryKey;size:64"`
	Email     string  `gorm:"uniqueIndex;not null"`
	Name      string  `gorm:"not null"`
	AvatarURL *string `gorm:"column:avatar_url"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string { return "users" }

// Session is a row of sessions.
type Session struct {
	ID        string    `gorm:"primaryKey;size:64"`
	UserID    string    `gorm:"not null;index"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
}

func (Session) TableName() string { return "sessions" }

// Activity is a row of activities.
type Activity struct {
	ID        string    `gorm:"primaryKey;size:64"`
	UserID    string    `gorm:"not null;index"`
	UserName  string    `gorm:"not null"`
	Action    string    `gorm:"not null"`
	RoomID    *string   `gorm:"index"`
	RoomName  *string   `gorm:"column:room_name"`
	CreatedAt time.Time `gorm:"index"`
}

func (Activity) TableName() string { return "activities" }

// allModels lists every table for AutoMigrate.
var allModels = []any{
	&KnowledgeNode{},
	&NodeConnection{},
	&GoalRoom{},
	&User{},
	&Session{},
	&Activity{},
}

// ToType converts the row to its API representation.
func (u *User) ToType() types.User {
	return types.User{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		CreatedAt: u.CreatedAt,
	}
}

func (r *GoalRoom) ToType() types.GoalRoom {
	return types.GoalRoom{
		ID:            r.ID,
		Name:          r.Name,
		Exam:          r.Exam,
		MemberCount:   r.MemberCount,
		ContentCount:  r.ContentCount,
		ActivityLevel: r.ActivityLevel,
		Description:   r.Description,
	}
}

func (a *Activity) ToType() types.Activity {
	out := types.Activity{
		ID:        a.ID,
		UserID:    a.UserID,
		UserName:  a.UserName,
		Action:    a.Action,
		Timestamp: a.CreatedAt,
	}
	if a.RoomID != nil {
		out.RoomID = *a.RoomID
	}
	if a.RoomName != nil {
		out.RoomName = *a.RoomName
	}
	return out
}

func (n *KnowledgeNode) toType(connections []string) types.KnowledgeNode {
	if connections == nil {
		connections = []string{}
	}
	return types.KnowledgeNode{
		ID:           n.ID,
		Name:         n.Name,
		Subject:      n.Subject,
		Exam:         n.Exam,
		Position:     [3]float64{n.PositionX, n.PositionY, n.PositionZ},
		Connections:  connections,
		ContentCount: n.ContentCount,
		Status:       n.Status,
	}
}
