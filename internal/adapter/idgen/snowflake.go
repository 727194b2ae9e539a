package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// SnowflakeGenerator issues monotonic 63-bit IDs unique per node. Each
// process must run with a distinct node number.
type SnowflakeGenerator struct {
	node *snowflake.Node
}

func NewSnowflakeGenerator(node int64) (*SnowflakeGenerator, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", node, err)
	}
	return &SnowflakeGenerator{node: n}, nil
}

func (g *SnowflakeGenerator) NewID() (string, error) {
	return g.node.Generate().String(), nil
}
