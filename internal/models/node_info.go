package models

import "time"

// NodeInfo contains metadata about the running node
type NodeInfo struct {
	ID        string    `json:"id"`
	Version   string    `json:"version"`
	StartTime time.Time `json:"start_time"`
}

// Uptime returns the duration since the node started
func (n *NodeInfo) Uptime() time.Duration {
	return time.Since(n.StartTime)
}

// NewNodeInfo creates a new NodeInfo with the current time as start time
func NewNodeInfo(id, version string) *NodeInfo {
	return &NodeInfo{
		ID:        id,
		Version:   version,
		StartTime: time.Now(),
	}
}
