package status

import (
	"github.com/google/uuid"
)

// Kind is the lifecycle notification an engine raised for a task.
type Kind int

const (
	KindWait Kind = iota
	KindPre
	KindStart
	KindResume
	KindRunning
	KindStop
	KindCancel
	KindFail
	KindComplete
)

func (k Kind) String() string {
	switch k {
	case KindWait:
		return "wait"
	case KindPre:
		return "pre"
	case KindStart:
		return "start"
	case KindResume:
		return "resume"
	case KindRunning:
		return "running"
	case KindStop:
		return "stop"
	case KindCancel:
		return "cancel"
	case KindFail:
		return "fail"
	case KindComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Task is what an engine knows about one of its tasks at a point in time.
//
// Engines that only track a percentage set PercentOnly and leave
// CompletedBytes zero; Normalize derives the byte count from Percent.
type Task struct {
	ID             uuid.UUID
	URL            string
	FilePath       string
	TotalBytes     int64
	CompletedBytes int64
	Percent        float64
	PercentOnly    bool
	Speed          int64
	State          Native
}

// Event is a single lifecycle notification raised by an engine.
type Event struct {
	Kind Kind
	Task Task
}

// Update is the canonical status message pushed to callers. It is always a
// complete snapshot of the task, never a delta.
type Update struct {
	URL            string `json:"url"`
	TotalBytes     int64  `json:"totalBytes"`
	CompletedBytes int64  `json:"completedBytes"`
	Speed          int64  `json:"speed"`
	Status         Status `json:"status"`
}

// Normalize derives the full canonical update for t.
func Normalize(t Task) Update {
	completed := t.CompletedBytes
	if t.PercentOnly {
		completed = CompletedFromPercent(t.Percent, t.TotalBytes)
	}

	return Update{
		URL:            t.URL,
		TotalBytes:     t.TotalBytes,
		CompletedBytes: completed,
		Speed:          t.Speed,
		Status:         Of(t.State),
	}
}

// CompletedFromPercent converts a progress percentage into a byte count.
// The float result is converted to an integer, which truncates toward zero.
func CompletedFromPercent(percent float64, totalBytes int64) int64 {
	return int64((percent / 100.0) * float64(totalBytes))
}
