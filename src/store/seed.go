package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type seedActivity struct {
	userID, userName, action, roomID, roomName string
	minutesAgo                                 int
}

var (
	seedNodes = []KnowledgeNode{
		{ID: "physics", Name: "Physics", Subject: "physics", Exam: "jee", PositionX: 0, PositionY: 0, PositionZ: 0, ContentCount: 156, Status: "green"},
		{ID: "chemistry", Name: "Chemistry", Subject: "chemistry", Exam: "jee", PositionX: 3, PositionY: 1, PositionZ: -1, ContentCount: 134, Status: "green"},
		{ID: "math", Name: "Mathematics", Subject: "math", Exam: "jee", PositionX: -3, PositionY: 0.5, PositionZ: 1, ContentCount: 189, Status: "green"},
		{ID: "biology", Name: "Biology", Subject: "biology", Exam: "neet", PositionX: 2, PositionY: -1, PositionZ: 2, ContentCount: 212, Status: "green"},
		{ID: "history", Name: "History", Subject: "history", Exam: "upsc", PositionX: -2, PositionY: 1.5, PositionZ: -2, ContentCount: 78, Status: "yellow"},
		{ID: "polity", Name: "Polity", Subject: "polity", Exam: "upsc", PositionX: 1, PositionY: 2, PositionZ: -1.5, ContentCount: 45, Status: "red"},
		{ID: "economics", Name: "Economics", Subject: "economics", Exam: "upsc", PositionX: -1, PositionY: -1.5, PositionZ: -1, ContentCount: 67, Status: "yellow"},
		{ID: "geography", Name: "Geography", Subject: "geography", Exam: "upsc", PositionX: 0, PositionY: 1, PositionZ: 3, ContentCount: 89, Status: "green"},
	}

	seedEdges = [][2]string{
		{"physics", "math"}, {"physics", "chemistry"},
		{"chemistry", "biology"},
		{"history", "polity"}, {"history", "geography"},
		{"polity", "economics"},
		{"economics", "geography"},
	}

	seedRooms = []GoalRoom{
		{ID: "jee-physics", Name: "JEE Physics", Exam: "jee", MemberCount: 2847, ContentCount: 1256, ActivityLevel: "high", Description: "Mechanics, Thermodynamics, Electromagnetism"},
		{ID: "jee-chemistry", Name: "JEE Chemistry", Exam: "jee", MemberCount: 2341, ContentCount: 987, ActivityLevel: "high", Description: "Organic, Inorganic, Physical Chemistry"},
		{ID: "jee-math", Name: "JEE Mathematics", Exam: "jee", MemberCount: 3102, ContentCount: 1432, ActivityLevel: "high", Description: "Calculus, Algebra, Coordinate Geometry"},
		{ID: "neet-biology", Name: "NEET Biology", Exam: "neet", MemberCount: 4521, ContentCount: 2145, ActivityLevel: "high", Description: "Botany, Zoology, Human Physiology"},
		{ID: "neet-chemistry", Name: "NEET Chemistry", Exam: "neet", MemberCount: 3876, ContentCount: 1567, ActivityLevel: "medium", Description: "Organic Chemistry, Biochemistry"},
		{ID: "upsc-history", Name: "UPSC History", Exam: "upsc", MemberCount: 1234, ContentCount: 678, ActivityLevel: "medium", Description: "Ancient, Medieval, Modern India"},
		{ID: "upsc-polity", Name: "UPSC Polity", Exam: "upsc", MemberCount: 987, ContentCount: 456, ActivityLevel: "low", Description: "Constitution, Governance, International Relations"},
		{ID: "upsc-geography", Name: "UPSC Geography", Exam: "upsc", MemberCount: 1456, ContentCount: 789, ActivityLevel: "medium", Description: "Physical, Human, Indian Geography"},
	}

	seedUsers = []User{
		{ID: "demo-user-1", Email: "priya@demo.com", Name: "Priya"},
		{ID: "demo-user-2", Email: "arjun@demo.com", Name: "Arjun"},
		{ID: "demo-user-3", Email: "neha@demo.com", Name: "Neha"},
		{ID: "demo-user-4", Email: "rahul@demo.com", Name: "Rahul"},
		{ID: "demo-user-5", Email: "ananya@demo.com", Name: "Ananya"},
		{ID: "demo-user-6", Email: "vikram@demo.com", Name: "Vikram"},
		{ID: "demo-user-7", Email: "shreya@demo.com", Name: "Shreya"},
		{ID: "demo-user-8", Email: "aditya@demo.com", Name: "Aditya"},
	}

	seedActivities = []seedActivity{
		{"demo-user-1", "Priya", `uploaded "Organic Chemistry Notes"`, "neet-chemistry", "NEET Chemistry", 2},
		{"demo-user-2", "Arjun", "completed Thermodynamics quiz", "jee-physics", "JEE Physics", 5},
		{"demo-user-3", "Neha", `shared "Modern History Summary"`, "upsc-history", "UPSC History", 10},
		{"demo-user-4", "Rahul", "asked a question about Calculus", "jee-math", "JEE Mathematics", 15},
		{"demo-user-5", "Ananya", `uploaded "Cell Biology Diagrams"`, "neet-biology", "NEET Biology", 20},
		{"demo-user-6", "Vikram", `earned "Top Contributor" badge`, "jee-chemistry", "JEE Chemistry", 25},
		{"demo-user-7", "Shreya", "completed 7-day study streak", "upsc-polity", "UPSC Polity", 30},
		{"demo-user-8", "Aditya", `posted bounty for "Krebs Cycle Mind Map"`, "neet-biology", "NEET Biology", 35},
	}
)

// Seed fills an empty database with the demo graph, rooms, users and
// activities. It does nothing when nodes already exist.
func (s *Store) Seed(ctx context.Context) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&KnowledgeNode{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count nodes: %w", err)
	}
	if count > 0 {
		return nil
	}

	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		nodes := append([]KnowledgeNode(nil), seedNodes...)
		if err := tx.Create(&nodes).Error; err != nil {
			return err
		}

		edges := make([]NodeConnection, 0, len(seedEdges)*2)
		for _, e := range seedEdges {
			edges = append(edges,
				NodeConnection{FromNodeID: e[0], ToNodeID: e[1]},
				NodeConnection{FromNodeID: e[1], ToNodeID: e[0]},
			)
		}
		if err := tx.Create(&edges).Error; err != nil {
			return err
		}

		rooms := append([]GoalRoom(nil), seedRooms...)
		if err := tx.Create(&rooms).Error; err != nil {
			return err
		}

		users := append([]User(nil), seedUsers...)
		if err := tx.Create(&users).Error; err != nil {
			return err
		}

		acts := make([]Activity, 0, len(seedActivities))
		for _, a := range seedActivities {
			acts = append(acts, Activity{
				ID:        NewID(),
				UserID:    a.userID,
				UserName:  a.userName,
				Action:    a.action,
				RoomID:    optional(a.roomID),
				RoomName:  optional(a.roomName),
				CreatedAt: now.Add(-time.Duration(a.minutesAgo) * time.Minute),
			})
		}
		return tx.Create(&acts).Error
	})
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	s.logger.Info().Int("nodes", len(seedNodes)).Int("rooms", len(seedRooms)).Msg("initial data seeded")
	return nil
}
