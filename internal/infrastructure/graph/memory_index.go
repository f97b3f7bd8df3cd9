package graph

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/davidleathers/betting-risk-engine/internal/service/detection"
)

type attributeKey struct {
	kind  detection.AttributeKind
	value string
}

type declarationKey struct {
	user uuid.UUID
	kind detection.AttributeKind
}

// MemoryIndex is the in-process identity index used when no graph store is
// configured. Like IdentityIndex it holds one current value per user and kind.
type MemoryIndex struct {
	mu      sync.RWMutex
	users   map[attributeKey]map[uuid.UUID]struct{}
	current map[declarationKey]string
}

var _ detection.IdentityIndex = (*MemoryIndex)(nil)

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		users:   make(map[attributeKey]map[uuid.UUID]struct{}),
		current: make(map[declarationKey]string),
	}
}

func (x *MemoryIndex) Index(_ context.Context, userID uuid.UUID, kind detection.AttributeKind, value string) error {
	if value == "" {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	decl := declarationKey{user: userID, kind: kind}
	if prev, ok := x.current[decl]; ok && prev != value {
		old := attributeKey{kind: kind, value: prev}
		delete(x.users[old], userID)
		if len(x.users[old]) == 0 {
			delete(x.users, old)
		}
	}
	x.current[decl] = value

	key := attributeKey{kind: kind, value: value}
	set, ok := x.users[key]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		x.users[key] = set
	}
	set[userID] = struct{}{}
	return nil
}

func (x *MemoryIndex) FindUsers(_ context.Context, kind detection.AttributeKind, value string) ([]uuid.UUID, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	set := x.users[attributeKey{kind: kind, value: value}]
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}
