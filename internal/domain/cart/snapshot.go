package cart

import (
	"encoding/json"

	"github.com/go-faster/errors"
)

const snapshotVersion = 1

// snapshot is the persisted form of a cart.
type snapshot struct {
	Version int    `json:"version"`
	Items   []Line `json:"items"`
}

func encodeSnapshot(lines []Line) ([]byte, error) {
	items := lines
	if items == nil {
		items = []Line{}
	}
	return json.Marshal(snapshot{Version: snapshotVersion, Items: items})
}

// decodeSnapshot parses a stored cart and checks the line invariants, so a
// blob that parses but breaks them is treated as corrupt too.
func decodeSnapshot(data []byte) ([]Line, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	if s.Version != snapshotVersion {
		return nil, errors.Errorf("unsupported snapshot version %d", s.Version)
	}

	seen := make(map[string]struct{}, len(s.Items))
	for _, l := range s.Items {
		if l.ProductID == "" || l.UnitPrice.IsNegative() || l.Quantity < 1 {
			return nil, errors.Errorf("invalid line %q", l.ProductID)
		}
		if _, dup := seen[l.ProductID]; dup {
			return nil, errors.Errorf("duplicate line %q", l.ProductID)
		}
		seen[l.ProductID] = struct{}{}
	}
	return s.Items, nil
}
