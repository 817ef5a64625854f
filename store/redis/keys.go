package redis

// Key prefixes.
const (
	prefixCheckpoint = "relay:checkpoint:"
)

// DefaultCheckpointKey names the checkpoint when none is configured.
const DefaultCheckpointKey = "conversations"

// checkpointKey returns the Redis key holding the resume token for name.
func checkpointKey(name string) string {
	return prefixCheckpoint + name
}
