package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencoreharness/agentcore/internal/message"
)

// record is one line of the on-disk session log. The first line of a file
// is always a metadataRecord (IsMeta=true); subsequent lines are message
// records in append order.
type record struct {
	IsMeta   bool           `json:"is_meta,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Message  *message.Message `json:"message,omitempty"`
}

// AppendLogWriter returns a PersistFunc that appends one JSON line per
// message to path, creating the file (and a metadata header line) on first
// use. Matches §4.2/§6.4: "Line-delimited records. First line is metadata;
// subsequent lines each encode one message."
func AppendLogWriter(path string) (PersistFunc, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("session: create log dir: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("session: create log: %w", err)
		}
		defer f.Close()
		header, _ := json.Marshal(record{IsMeta: true, Metadata: map[string]any{}})
		if _, err := f.Write(append(header, '\n')); err != nil {
			return nil, fmt.Errorf("session: write log header: %w", err)
		}
	}

	return func(sessionID string, msg message.Message) error {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("session: open log for append: %w", err)
		}
		defer f.Close()

		line, err := json.Marshal(record{Message: &msg})
		if err != nil {
			return fmt.Errorf("session: marshal message: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("session: append message: %w", err)
		}
		return nil
	}, nil
}

// Save serialises the full tree plus metadata to path via a temp file and
// atomic rename, satisfying the "compaction writes a new file or rewrites
// via atomic rename" resource policy (§5).
func Save(s *Session, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("session: create dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("session: create temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	header := record{IsMeta: true, Metadata: s.AllMetadata()}
	headerLine, err := json.Marshal(header)
	if err != nil {
		f.Close()
		return err
	}
	if _, err := w.Write(append(headerLine, '\n')); err != nil {
		f.Close()
		return err
	}

	for _, m := range s.AllMessages() {
		line, err := json.Marshal(record{Message: &m})
		if err != nil {
			f.Close()
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			f.Close()
			return err
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reconstructs a Session's tree and metadata from path, setting
// current_id to the leaf of the longest root-to-leaf path, per §4.2's load
// contract.
func Load(id string, path string, persist PersistFunc) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("session: open log: %w", err)
	}
	defer f.Close()

	s := New(id, persist)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	parentOf := map[string]string{}
	var allIDs []string
	first := true
	for scanner.Scan() {
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("session: decode record: %w", err)
		}
		if first {
			first = false
			if rec.IsMeta {
				s.metadata = rec.Metadata
				if s.metadata == nil {
					s.metadata = map[string]any{}
				}
				continue
			}
		}
		if rec.Message == nil {
			continue
		}
		m := rec.Message.Clone()
		s.messages[m.ID] = &m
		if m.ParentID != message.NoParent {
			s.children[m.ParentID] = append(s.children[m.ParentID], m.ID)
		}
		parentOf[m.ID] = m.ParentID
		allIDs = append(allIDs, m.ID)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("session: scan log: %w", err)
	}

	hasChild := map[string]bool{}
	for _, parent := range parentOf {
		if parent != message.NoParent {
			hasChild[parent] = true
		}
	}

	var longestLeaf string
	longestDepth := -1
	for _, id := range allIDs {
		if hasChild[id] {
			continue // not a leaf
		}
		depth := 0
		cursor := id
		for cursor != message.NoParent {
			depth++
			cursor = parentOf[cursor]
		}
		if depth > longestDepth {
			longestDepth = depth
			longestLeaf = id
		}
	}
	s.currentID = longestLeaf

	return s, nil
}
