package common

// GlobalStats contains aggregated statistics across all engine tasks.
type GlobalStats struct {
	ActiveDownloads    int
	QueuedDownloads    int
	CompletedDownloads int
	FailedDownloads    int
	PausedDownloads    int
	TotalDownloaded    int64
	CurrentSpeed       int64
	MaxConcurrent      int
}
