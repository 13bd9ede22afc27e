package memory

import (
	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

const idPrefix = "mem_"

// IDGenerator produces record identifiers that never repeat within a store.
type IDGenerator interface {
	NewID() (string, error)
}

// SnowflakeIDs issues time-ordered 63-bit snowflake identifiers. Each
// generator carries a node number so processes sharing a store can use
// distinct nodes.
type SnowflakeIDs struct {
	node *snowflake.Node
}

// NewSnowflakeIDs creates a generator for the given node (0-1023).
func NewSnowflakeIDs(node int64) (*SnowflakeIDs, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create snowflake node", goerr.V("node", node))
	}
	return &SnowflakeIDs{node: n}, nil
}

func (g *SnowflakeIDs) NewID() (string, error) {
	return idPrefix + g.node.Generate().String(), nil
}

// UUIDIDs issues version 7 UUIDs, which are time-ordered and random in
// their low bits.
type UUIDIDs struct{}

func (UUIDIDs) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate uuid")
	}
	return idPrefix + id.String(), nil
}
