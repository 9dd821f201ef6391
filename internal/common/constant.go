package common

const (
	// ChunkSize is the fixed size of a single resumable upload chunk.
	ChunkSize = 1 << 20 // 1 MiB

	// SimpleUploadThreshold is the size at or below which a file is sent
	// in one request instead of a resumable session.
	SimpleUploadThreshold = 5 << 20 // 5 MiB

	// MaxChunkAttempts bounds how many times a single chunk write is tried
	// before the whole job is failed.
	MaxChunkAttempts = 5
)
