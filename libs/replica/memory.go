package replica

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is the in-process Store used by tests and local tooling. Each
// InTx works on a copy of the state that replaces it on commit, so a failing
// handler leaves nothing behind.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState

	// EnforceReferences mirrors the foreign keys of a service that keeps a
	// user replica: relationship rows need both users present, and deleting
	// a user cascades.
	EnforceReferences bool
}

type memoryState struct {
	users       map[string]User
	blocks      map[string]Block
	follows     map[string]Follow
	friendships map[string]Friendship
	tombstones  map[Kind]map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

func newMemoryState() memoryState {
	return memoryState{
		users:       map[string]User{},
		blocks:      map[string]Block{},
		follows:     map[string]Follow{},
		friendships: map[string]Friendship{},
		tombstones:  map[Kind]map[string]bool{},
	}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := &memoryTx{state: s.state.clone(), enforce: s.EnforceReferences}
	if err := fn(ctx, work); err != nil {
		return err
	}
	s.state = work.state
	return nil
}

// Count returns the number of rows of kind.
func (s *MemoryStore) Count(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case KindUser:
		return len(s.state.users)
	case KindBlock:
		return len(s.state.blocks)
	case KindFollow:
		return len(s.state.follows)
	case KindFriendship:
		return len(s.state.friendships)
	}
	return 0
}

func (s *MemoryStore) User(id string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.state.users[id]
	return u, ok
}

func (s *MemoryStore) Has(kind Kind, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, _ := (&memoryTx{state: s.state}).Exists(context.Background(), kind, id)
	return ok
}

func (st memoryState) clone() memoryState {
	out := newMemoryState()
	for k, v := range st.users {
		out.users[k] = v
	}
	for k, v := range st.blocks {
		out.blocks[k] = v
	}
	for k, v := range st.follows {
		out.follows[k] = v
	}
	for k, v := range st.friendships {
		out.friendships[k] = v
	}
	for kind, ids := range st.tombstones {
		out.tombstones[kind] = map[string]bool{}
		for id := range ids {
			out.tombstones[kind][id] = true
		}
	}
	return out
}

type memoryTx struct {
	state   memoryState
	enforce bool
}

func (t *memoryTx) Exists(_ context.Context, kind Kind, id string) (bool, error) {
	var ok bool
	switch kind {
	case KindUser:
		_, ok = t.state.users[id]
	case KindBlock:
		_, ok = t.state.blocks[id]
	case KindFollow:
		_, ok = t.state.follows[id]
	case KindFriendship:
		_, ok = t.state.friendships[id]
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return ok, nil
}

func (t *memoryTx) Delete(ctx context.Context, kind Kind, id string) (bool, error) {
	ok, err := t.Exists(ctx, kind, id)
	if err != nil || !ok {
		return false, err
	}
	switch kind {
	case KindUser:
		delete(t.state.users, id)
		if t.enforce {
			t.cascadeUser(id)
		}
	case KindBlock:
		delete(t.state.blocks, id)
	case KindFollow:
		delete(t.state.follows, id)
	case KindFriendship:
		delete(t.state.friendships, id)
	}
	return true, nil
}

func (t *memoryTx) cascadeUser(id string) {
	for k, b := range t.state.blocks {
		if b.BlockerID == id || b.BlockedID == id {
			delete(t.state.blocks, k)
		}
	}
	for k, f := range t.state.follows {
		if f.FollowerID == id || f.FollowedID == id {
			delete(t.state.follows, k)
		}
	}
	for k, f := range t.state.friendships {
		if f.User1ID == id || f.User2ID == id {
			delete(t.state.friendships, k)
		}
	}
}

func (t *memoryTx) UserIdentityTaken(_ context.Context, username, email string) (bool, error) {
	for _, u := range t.state.users {
		if (username != "" && u.Username == username) || (email != "" && u.Email == email) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) InsertUser(ctx context.Context, u User) error {
	if _, ok := t.state.users[u.ID]; ok {
		return fmt.Errorf("%w: user %s", ErrDuplicate, u.ID)
	}
	if taken, _ := t.UserIdentityTaken(ctx, u.Username, u.Email); taken {
		return fmt.Errorf("%w: username or email of %s", ErrDuplicate, u.ID)
	}
	t.state.users[u.ID] = u
	return nil
}

func (t *memoryTx) InsertBlock(_ context.Context, b Block) error {
	if _, ok := t.state.blocks[b.ID]; ok {
		return fmt.Errorf("%w: block %s", ErrDuplicate, b.ID)
	}
	if err := t.requireUsers(b.BlockerID, b.BlockedID); err != nil {
		return err
	}
	t.state.blocks[b.ID] = b
	return nil
}

func (t *memoryTx) InsertFollow(_ context.Context, f Follow) error {
	if _, ok := t.state.follows[f.ID]; ok {
		return fmt.Errorf("%w: follow %s", ErrDuplicate, f.ID)
	}
	if err := t.requireUsers(f.FollowerID, f.FollowedID); err != nil {
		return err
	}
	t.state.follows[f.ID] = f
	return nil
}

func (t *memoryTx) InsertFriendship(_ context.Context, f Friendship) error {
	if _, ok := t.state.friendships[f.ID]; ok {
		return fmt.Errorf("%w: friendship %s", ErrDuplicate, f.ID)
	}
	if err := t.requireUsers(f.User1ID, f.User2ID); err != nil {
		return err
	}
	t.state.friendships[f.ID] = f
	return nil
}

func (t *memoryTx) requireUsers(ids ...string) error {
	if !t.enforce {
		return nil
	}
	for _, id := range ids {
		if _, ok := t.state.users[id]; !ok {
			return fmt.Errorf("%w: user %s", ErrMissingReference, id)
		}
	}
	return nil
}

func (t *memoryTx) Tombstoned(_ context.Context, kind Kind, id string) (bool, error) {
	return t.state.tombstones[kind][id], nil
}

func (t *memoryTx) Tombstone(_ context.Context, kind Kind, id string) error {
	if t.state.tombstones[kind] == nil {
		t.state.tombstones[kind] = map[string]bool{}
	}
	t.state.tombstones[kind][id] = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
