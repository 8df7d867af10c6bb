// Package session implements the Message & Session Store: a tree of
// messages with branching, path walk, segment replacement (compaction
// splice), and append-to-disk persistence.
//
// Grounded on haasonsaas-nexus's internal/sessions package — the tree/branch
// shape follows branch_memory.go's in-memory store, the per-session
// exclusivity follows write_lock.go's SessionLocker, and the sentinel-error
// style follows branch_store.go.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencoreharness/agentcore/internal/message"
)

var (
	// ErrNotFound is returned when a referenced message ID does not exist
	// in the session.
	ErrNotFound = errors.New("session: message not found")
	// ErrDanglingParent is returned (S1) if an append or replace would
	// create a parent_id with no resolvable target.
	ErrDanglingParent = errors.New("session: parent_id does not resolve to an existing message")
	// ErrInvalidSegment is returned when replace_path_segment's from/to
	// pair does not describe a contiguous run on the active path.
	ErrInvalidSegment = errors.New("session: from_id/to_id do not describe a contiguous active-path segment")
)

// Session owns a tree of Messages for one conversation and a current_id
// pointer to the active leaf. It is safe for concurrent use; all mutating
// operations are serialized through an internal mutex, mirroring the
// single-owner-process mailbox semantics described in §5 of the spec.
type Session struct {
	mu sync.RWMutex

	id        string
	messages  map[string]*message.Message
	children  map[string][]string // parent_id -> ordered child ids
	currentID string

	metadata map[string]any

	persist PersistFunc
}

// PersistFunc appends a single message record to durable storage. It is
// invoked synchronously from Append while the Session's lock is held;
// implementations must not call back into the Session.
type PersistFunc func(sessionID string, msg message.Message) error

// New creates an empty Session. persist may be nil to disable on-disk
// append (failure semantics: §4.2 "the in-memory tree is the source of
// truth").
func New(id string, persist PersistFunc) *Session {
	return &Session{
		id:       id,
		messages: make(map[string]*message.Message),
		children: make(map[string][]string),
		metadata: make(map[string]any),
		persist:  persist,
	}
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// CurrentID returns the active leaf's ID, or message.NoParent if the
// session is empty.
func (s *Session) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

// Append assigns an ID, sets parent_id to current_id, stores the message,
// advances current_id to the new message, and (if persistence is enabled)
// appends a durable record. Returns the stored message's final ID.
//
// On a persistence failure the error is returned to the caller for logging/
// broadcasting as an `error` event (§4.2's "Failure semantics"), but the
// in-memory append has already succeeded and is never rolled back.
func (s *Session) Append(msg message.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ParentID = s.currentID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	stored := msg.Clone()
	s.messages[stored.ID] = &stored
	if stored.ParentID != message.NoParent {
		s.children[stored.ParentID] = append(s.children[stored.ParentID], stored.ID)
	}
	s.currentID = stored.ID

	if s.persist != nil {
		if err := s.persist(s.id, stored); err != nil {
			return stored.ID, err
		}
	}
	return stored.ID, nil
}

// Get returns a copy of the message with the given ID.
func (s *Session) Get(id string) (message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return message.Message{}, ErrNotFound
	}
	return m.Clone(), nil
}

// GetPath returns the root-to-leaf walk of the active path: current_id,
// then its parent, and so on, reversed into chronological order (S2:
// walking parents from current_id always terminates at parent_id=NONE).
func (s *Session) GetPath() ([]message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pathFrom(s.currentID)
}

// pathFrom walks parents from id to the root, returning root-first order.
// Caller must hold at least a read lock.
func (s *Session) pathFrom(id string) ([]message.Message, error) {
	var reversed []message.Message
	cursor := id
	seen := make(map[string]bool)
	for cursor != message.NoParent {
		if seen[cursor] {
			return nil, errors.New("session: cycle detected in parent chain")
		}
		seen[cursor] = true
		m, ok := s.messages[cursor]
		if !ok {
			return nil, ErrNotFound
		}
		reversed = append(reversed, m.Clone())
		cursor = m.ParentID
	}
	out := make([]message.Message, len(reversed))
	for i, m := range reversed {
		out[len(reversed)-1-i] = m
	}
	return out, nil
}

// Branch sets current_id to target_id. The next Append forks the tree: any
// existing children of target_id are retained but no longer on the active
// path.
func (s *Session) Branch(targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if targetID != message.NoParent {
		if _, ok := s.messages[targetID]; !ok {
			return ErrNotFound
		}
	}
	s.currentID = targetID
	return nil
}

// SetMetadata sets a session-level key-value pair.
func (s *Session) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

// GetMetadata returns a session-level value and whether it was set.
func (s *Session) GetMetadata(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.metadata[key]
	return v, ok
}

// ReplacePathSegment removes the contiguous run fromID..toID on the active
// path and splices replacements in their place, in order. Any children of
// toID that are not themselves on the active path (i.e. messages forked off
// a message being removed) are re-parented to the last replacement so the
// tree stays connected (S1). If current_id was within the removed segment,
// it is advanced to the last replacement.
//
// This is the primitive behind compaction (§4.8): fromID is typically the
// session root and toID the last message being folded into a summary.
func (s *Session) ReplacePathSegment(fromID, toID string, replacements []message.Message) ([]message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.pathFrom(s.currentID)
	if err != nil {
		return nil, err
	}

	startIdx, endIdx := -1, -1
	for i, m := range path {
		if m.ID == fromID {
			startIdx = i
		}
		if m.ID == toID {
			endIdx = i
			break
		}
	}
	if startIdx == -1 || endIdx == -1 || endIdx < startIdx {
		return nil, ErrInvalidSegment
	}

	newParent := message.NoParent
	if startIdx > 0 {
		newParent = path[startIdx-1].ID
	}

	// Re-parent any children of messages in the removed segment that are
	// NOT themselves on the active path (forked branches); everything on
	// the active path past endIdx is spliced back under the last
	// replacement below.
	removedIDs := make(map[string]bool, endIdx-startIdx+1)
	onPath := make(map[string]bool, len(path))
	for _, m := range path {
		onPath[m.ID] = true
	}
	for i := startIdx; i <= endIdx; i++ {
		removedIDs[path[i].ID] = true
	}

	stored := make([]message.Message, 0, len(replacements))
	for _, r := range replacements {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r.ParentID = newParent
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
		clone := r.Clone()
		s.messages[clone.ID] = &clone
		if newParent != message.NoParent {
			s.children[newParent] = append(s.children[newParent], clone.ID)
		}
		newParent = clone.ID
		stored = append(stored, clone.Clone())
	}
	lastReplacementID := newParent

	// Re-parent surviving children (off-path forks) of messages being
	// removed onto the replacement head.
	for removedID := range removedIDs {
		for _, childID := range s.children[removedID] {
			if onPath[childID] && removedIDs[childID] {
				continue // this child is itself being removed
			}
			if child, ok := s.messages[childID]; ok {
				child.ParentID = lastReplacementID
				if len(stored) > 0 {
					s.children[lastReplacementID] = append(s.children[lastReplacementID], childID)
				}
			}
		}
		delete(s.children, removedID)
	}

	// Splice the tail of the active path (everything after endIdx) back
	// under the last replacement.
	cursorParent := lastReplacementID
	for i := endIdx + 1; i < len(path); i++ {
		m := s.messages[path[i].ID]
		m.ParentID = cursorParent
		s.children[cursorParent] = append(s.children[cursorParent], m.ID)
		cursorParent = m.ID
	}

	for i := startIdx; i <= endIdx; i++ {
		delete(s.messages, path[i].ID)
	}

	if s.currentID == "" {
		s.currentID = lastReplacementID
	} else if removedIDs[s.currentID] {
		if len(path) > endIdx+1 {
			s.currentID = path[len(path)-1].ID
		} else {
			s.currentID = lastReplacementID
		}
	}

	return stored, nil
}

// AllMessages returns every message currently stored, regardless of branch,
// for diagnostics/serialization (Save).
func (s *Session) AllMessages() []message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]message.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m.Clone())
	}
	return out
}

// AllMetadata returns a copy of the session-level metadata map.
func (s *Session) AllMetadata() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}
