package files

import (
	"encoding/json"
	"fmt"
)

// decodeArgs round-trips a tool call's loosely-typed argument map through
// JSON into a concrete struct, the same decoding every file tool needs.
func decodeArgs(args map[string]any, out any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}
