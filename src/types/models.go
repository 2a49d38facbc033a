package types

import (
	"slices"
	"time"
)

// Exam identifiers accepted by the by-exam listings.
var Exams = []string{"jee", "neet", "upsc"}

// NodeStatuses are the allowed knowledge node statuses.
var NodeStatuses = []string{"green", "yellow", "red"}

// User is the public view of an account.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL *string   `json:"avatarUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// KnowledgeNode is a node of the knowledge graph with its outgoing edges.
type KnowledgeNode struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Subject      string     `json:"subject"`
	Exam         string     `json:"exam"`
	Position     [3]float64 `json:"position"`
	Connections  []string   `json:"connections"`
	ContentCount int        `json:"contentCount"`
	Status       string     `json:"status"`
}

// GoalRoom is a study room for one exam track.
type GoalRoom struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Exam          string `json:"exam"`
	MemberCount   int    `json:"memberCount"`
	ContentCount  int    `json:"contentCount"`
	ActivityLevel string `json:"activityLevel"`
	Description   string `json:"description"`
}

// IsExam reports whether s names a known exam.
func IsExam(s string) bool { return slices.Contains(Exams, s) }

// IsNodeStatus reports whether s is an allowed node status.
func IsNodeStatus(s string) bool { return slices.Contains(NodeStatuses, s) }
