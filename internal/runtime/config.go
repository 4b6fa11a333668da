package runtime

// HostConfig sets the admission limits of a host manager.
type HostConfig struct {
	// MaxActiveRequests bounds concurrently dispatched requests.
	MaxActiveRequests int `mapstructure:"max_active_requests" json:"max_active_requests"`
	// MaxQueueSize bounds queued-but-not-started requests; further
	// submissions fail fast with QueueFull.
	MaxQueueSize int `mapstructure:"max_queue_size" json:"max_queue_size"`
	// ExecutorThreads sizes the executor worker pool.
	ExecutorThreads int `mapstructure:"executor_threads" json:"executor_threads"`
}

// DefaultHostConfig returns the stock limits.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		MaxActiveRequests: 10,
		MaxQueueSize:      100,
		ExecutorThreads:   3,
	}
}

// DeviceConfig describes one physical device to initialize.
type DeviceConfig struct {
	// BackendName selects the backend, required.
	BackendName string `mapstructure:"backend" json:"backend"`
	// Name is an optional human label.
	Name string `mapstructure:"name" json:"name,omitempty"`
	// ID is assigned by the host at init time.
	ID DeviceID `mapstructure:"-" json:"device_id"`
	// DeviceMemory in bytes; 0 means use the backend default.
	DeviceMemory int64 `mapstructure:"memory" json:"memory"`
	// Parameters are passed through to the DeviceManager untouched.
	Parameters map[string]string `mapstructure:"parameters" json:"parameters,omitempty"`
}

// HasName reports whether a human label was set.
func (c *DeviceConfig) HasName() bool { return c.Name != "" }

// DeviceMemoryOr returns the configured memory, or def when unset.
func (c *DeviceConfig) DeviceMemoryOr(def int64) int64 {
	if c.DeviceMemory == 0 {
		return def
	}
	return c.DeviceMemory
}

// PartitionConfig is a user-defined partition: a fixed number of named
// partitions with a node-name to partition-index mapping. Nodes absent from
// the mapping all land in the single unused partition.
type PartitionConfig struct {
	FuncName        string         `mapstructure:"function" json:"function"`
	NumOfPartitions int            `mapstructure:"num_partitions" json:"num_partitions"`
	BackendNames    []string       `mapstructure:"backends" json:"backends"`
	PartitionNames  []string       `mapstructure:"names" json:"names"`
	NodeToPartition map[string]int `mapstructure:"node_to_partition" json:"node_to_partition"`
}

// Enabled reports whether the user supplied a partition plan.
func (c *PartitionConfig) Enabled() bool { return c.NumOfPartitions > 0 }
