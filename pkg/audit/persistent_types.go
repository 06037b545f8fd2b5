package audit

// PersistentEvent is one line of the on-disk log. EventHash covers the
// line with EventHash empty, and PreviousHash links it to the line before,
// so editing, dropping or reordering lines breaks the chain.
type PersistentEvent struct {
	*Event
	PreviousHash string `json:"previous_hash,omitempty"`
	EventHash    string `json:"event_hash"`
}

// PersistentConfig holds configuration for persistent audit logging
type PersistentConfig struct {
	Dir string `yaml:"dir"`
	// RotationSize starts a new segment once the current one reaches this
	// many bytes. Zero disables rotation.
	RotationSize int64 `yaml:"rotation_size"`
	// Compress snappy-compresses segments as they are rotated out.
	Compress bool `yaml:"compress"`
}

// DefaultPersistentConfig returns default configuration
func DefaultPersistentConfig() PersistentConfig {
	return PersistentConfig{
		Dir:          "./data/audit",
		RotationSize: 64 << 20,
		Compress:     true,
	}
}

// Statistics describes the on-disk log.
type Statistics struct {
	TotalEvents  int64  `json:"total_events"`
	Segments     int    `json:"segments"`
	TotalSize    int64  `json:"total_size_bytes"`
	CurrentFile  string `json:"current_file"`
	BytesWritten int64  `json:"bytes_written"`
	LastHash     string `json:"last_hash,omitempty"`
}
