package domain

import "time"

// StatsSample is one decoded resource-usage reading of a container. Each
// sample is complete on its own: consumers replace the previous reading
// rather than merging into it.
type StatsSample struct {
	Read          time.Time `json:"read"`
	CPUPercent    float64   `json:"cpu_percent"`
	OnlineCPUs    uint32    `json:"online_cpus"`
	MemoryUsage   uint64    `json:"memory_usage"`
	MemoryLimit   uint64    `json:"memory_limit"`
	MemoryPercent float64   `json:"memory_percent"`
	NetworkRx     uint64    `json:"network_rx"`
	NetworkTx     uint64    `json:"network_tx"`
	BlockRead     uint64    `json:"block_read"`
	BlockWrite    uint64    `json:"block_write"`
	Pids          uint64    `json:"pids"`
}
