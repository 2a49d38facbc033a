package store

import (
	"context"
	"fmt"

	"github.com/orchestra-mcp/nexus/src/types"
	"gorm.io/gorm"
)

// ListNodes returns every node with its outgoing connections.
func (s *Store) ListNodes(ctx context.Context) ([]types.KnowledgeNode, error) {
	return s.listNodes(ctx, s.db.WithContext(ctx))
}

// NodesByExam returns the nodes of one exam track.
func (s *Store) NodesByExam(ctx context.Context, exam string) ([]types.KnowledgeNode, error) {
	return s.listNodes(ctx, s.db.WithContext(ctx).Where("exam = ?", exam))
}

func (s *Store) listNodes(ctx context.Context, q *gorm.DB) ([]types.KnowledgeNode, error) {
	var rows []KnowledgeNode
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	var edges []NodeConnection
	if err := s.db.WithContext(ctx).Order("id").Find(&edges).Error; err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	byFrom := make(map[string][]string)
	for _, e := range edges {
		byFrom[e.FromNodeID] = append(byFrom[e.FromNodeID], e.ToNodeID)
	}

	out := make([]types.KnowledgeNode, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toType(byFrom[rows[i].ID]))
	}
	return out, nil
}

// GetNode returns one node or ErrNotFound.
func (s *Store) GetNode(ctx context.Context, id string) (types.KnowledgeNode, error) {
	var row KnowledgeNode
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return types.KnowledgeNode{}, notFound(err)
	}
	var to []string
	err := s.db.WithContext(ctx).Model(&NodeConnection{}).
		Where("from_node_id = ?", id).Order("id").Pluck("to_node_id", &to).Error
	if err != nil {
		return types.KnowledgeNode{}, fmt.Errorf("node connections: %w", err)
	}
	return row.toType(to), nil
}

// UpdateNodeStatus sets the status of a node.
func (s *Store) UpdateNodeStatus(ctx context.Context, id, status string) error {
	res := s.db.WithContext(ctx).Model(&KnowledgeNode{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("update node status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateNodePosition stores the graph position of a node.
func (s *Store) UpdateNodePosition(ctx context.Context, id string, pos [3]float64) error {
	res := s.db.WithContext(ctx).Model(&KnowledgeNode{}).Where("id = ?", id).Updates(map[string]any{
		"position_x": pos[0],
		"position_y": pos[1],
		"position_z": pos[2],
	})
	if res.Error != nil {
		return fmt.Errorf("update node position: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementNodeContent bumps the content counter of a node.
func (s *Store) IncrementNodeContent(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&KnowledgeNode{}).Where("id = ?", id).
		Update("content_count", gorm.Expr("content_count + 1"))
	if res.Error != nil {
		return fmt.Errorf("increment node content: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
