package goals

import (
	"encoding/json"

	"compliance-backend/internal/kv"
)

const Key = "user-compliance-goals-v2"

// Schema registers the goals collection. Version 1 could hold the stored
// status "overdue", which is a view since version 2.
func Schema() kv.Schema {
	return kv.Schema{
		Key:     Key,
		Version: 2,
		Upgrades: map[int]kv.Upgrade{
			1: upgradeV1,
		},
	}
}

func upgradeV1(raw json.RawMessage) (json.RawMessage, error) {
	var goals []map[string]any
	if err := json.Unmarshal(raw, &goals); err != nil {
		return nil, err
	}
	for _, g := range goals {
		if g["status"] == string(StatusOverdue) {
			g["status"] = string(StatusActive)
		}
		for _, field := range []string{"standard_ids", "milestones", "dependencies"} {
			if g[field] == nil {
				g[field] = []any{}
			}
		}
	}
	return json.Marshal(goals)
}
