package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/davidleathers/betting-risk-engine/internal/service/detection"
)

const (
	userConstraint = `CREATE CONSTRAINT risk_user_id IF NOT EXISTS
FOR (u:User) REQUIRE u.id IS UNIQUE`

	attributeIndex = `CREATE INDEX risk_attribute_lookup IF NOT EXISTS
FOR (a:Attribute) ON (a.kind, a.value)`

	indexAttribute = `MERGE (u:User {id: $user_id})
WITH u
OPTIONAL MATCH (u)-[old:DECLARED]->(prev:Attribute {kind: $kind})
WHERE prev.value <> $value
DELETE old
WITH DISTINCT u
MERGE (a:Attribute {kind: $kind, value: $value})
MERGE (u)-[r:DECLARED]->(a)
ON CREATE SET r.first_seen = datetime()
SET r.last_seen = datetime()`

	findUsers = `MATCH (u:User)-[:DECLARED]->(:Attribute {kind: $kind, value: $value})
RETURN DISTINCT u.id AS user_id
ORDER BY user_id`
)

// IdentityIndex keeps (User)-[:DECLARED]->(Attribute) edges, one per user and
// kind. Declaring a new value replaces the user's previous edge of that kind.
type IdentityIndex struct {
	client Client
}

var _ detection.IdentityIndex = (*IdentityIndex)(nil)

func NewIdentityIndex(client Client) *IdentityIndex {
	return &IdentityIndex{client: client}
}

// EnsureSchema creates the uniqueness constraint and lookup index.
func (x *IdentityIndex) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{userConstraint, attributeIndex} {
		if _, err := x.client.ExecuteWrite(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return nil
}

func (x *IdentityIndex) Index(ctx context.Context, userID uuid.UUID, kind detection.AttributeKind, value string) error {
	if value == "" {
		return nil
	}
	_, err := x.client.ExecuteWrite(ctx, indexAttribute, map[string]any{
		"user_id": userID.String(),
		"kind":    string(kind),
		"value":   value,
	})
	if err != nil {
		return fmt.Errorf("index %s: %w", kind, err)
	}
	return nil
}

func (x *IdentityIndex) FindUsers(ctx context.Context, kind detection.AttributeKind, value string) ([]uuid.UUID, error) {
	if value == "" {
		return nil, nil
	}
	res, err := x.client.ExecuteRead(ctx, findUsers, map[string]any{
		"kind":  string(kind),
		"value": value,
	})
	if err != nil {
		return nil, fmt.Errorf("find users by %s: %w", kind, err)
	}

	users := make([]uuid.UUID, 0, len(res.Records))
	for _, rec := range res.Records {
		raw, ok := rec["user_id"].(string)
		if !ok {
			return nil, fmt.Errorf("find users by %s: unexpected user_id %T", kind, rec["user_id"])
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("find users by %s: %w", kind, err)
		}
		users = append(users, id)
	}
	return users, nil
}
