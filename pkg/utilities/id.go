package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewSessionID returns a KSUID string. KSUIDs sort by creation time, which keeps
// device session listings readable in logs.
func NewSessionID() string {
	return ksuid.New().String()
}

// NewAccountID generates a snowflake account id. The node id is read once from
// SNOWFLAKE_NODE (default 1).
func NewAccountID() int64 {
	nodeOnce.Do(func() {
		nodeID := int64(1)
		if v, err := strconv.ParseInt(os.Getenv("SNOWFLAKE_NODE"), 10, 64); err == nil {
			nodeID = v
		}
		n, err := snowflake.NewNode(nodeID)
		if err != nil {
			// out-of-range node ids fall back to node 1
			n, _ = snowflake.NewNode(1)
		}
		node = n
	})
	return node.Generate().Int64()
}
