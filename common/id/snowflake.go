package id

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	mu   sync.Mutex
	node *snowflake.Node
)

// Init sets the Snowflake node for this process. Server, worker and CLI use
// different node IDs so IDs minted concurrently by each never collide.
// Calling Init again with the same node ID is a no-op.
func Init(nodeID int64) error {
	mu.Lock()
	defer mu.Unlock()

	if node != nil {
		return nil
	}

	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("creating snowflake node %d: %w", nodeID, err)
	}
	node = n
	return nil
}

// New generates a new globally unique, time-ordered int64 ID.
// Panics if Init has not been called.
func New() int64 {
	mu.Lock()
	n := node
	mu.Unlock()

	if n == nil {
		panic("id: New called before Init")
	}
	return n.Generate().Int64()
}
