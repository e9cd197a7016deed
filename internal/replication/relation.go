package replication

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pglogrepl"
)

// relationCache remembers the column layout of each relation the server has
// announced, keyed by pgoutput's RelationID. Every graph-data table the
// decoder cares about carries exactly two columns of interest: an id column
// and a "properties" JSON column; other columns are ignored.
type relationCache struct {
	byID map[uint32]*pglogrepl.RelationMessage
}

func newRelationCache() *relationCache {
	return &relationCache{byID: make(map[uint32]*pglogrepl.RelationMessage)}
}

func (c *relationCache) add(rel *pglogrepl.RelationMessage) {
	c.byID[rel.RelationID] = rel
}

func (c *relationCache) get(relationID uint32) (*pglogrepl.RelationMessage, bool) {
	rel, ok := c.byID[relationID]
	return rel, ok
}

// isSystemNamespace reports whether a relation belongs to a catalog/system
// schema whose changes the decoder must ignore.
func isSystemNamespace(rel *pglogrepl.RelationMessage) bool {
	switch rel.Namespace {
	case "pg_catalog", "information_schema", "ag_catalog":
		return true
	default:
		return false
	}
}

// decodeRow extracts the row id and the parsed "properties" JSON object
// from a tuple, using the relation's column order to find them by name.
func decodeRow(rel *pglogrepl.RelationMessage, tuple *pglogrepl.TupleData) (id string, properties map[string]interface{}, err error) {
	if tuple == nil {
		return "", nil, fmt.Errorf("replication: nil tuple for relation %s", rel.RelationName)
	}

	for i, col := range rel.Columns {
		if i >= len(tuple.Columns) {
			break
		}

		data := tuple.Columns[i]
		if data.DataType != uint8('t') {
			// 'n' (null) or 'u' (TOASTed, unchanged) columns are not interesting
			// here: the decoder only reads id and properties, both of which are
			// always sent in full when present.
			continue
		}

		switch col.Name {
		case "id":
			id = string(data.Data)
		case "properties":
			if err := json.Unmarshal(data.Data, &properties); err != nil {
				return "", nil, fmt.Errorf("replication: unmarshal properties for relation %s: %w", rel.RelationName, err)
			}
		}
	}

	if id == "" {
		return "", nil, fmt.Errorf("replication: relation %s row missing id column", rel.RelationName)
	}

	return id, properties, nil
}
