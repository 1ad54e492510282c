package status

// AriaState is the numeric task state used by the Aria download library.
type AriaState int

const (
	AriaFail     AriaState = 0
	AriaComplete AriaState = 1
	AriaStop     AriaState = 2
	AriaWait     AriaState = 3
	AriaRunning  AriaState = 4
	AriaPre      AriaState = 5
	AriaPostPre  AriaState = 6
	AriaCancel   AriaState = 7
)

var ariaTable = Table[AriaState]{
	AriaRunning:  StatusRunning,
	AriaComplete: StatusCompleted,
	AriaStop:     StatusSuspended,
}

func (s AriaState) Canonical() Status { return ariaTable.Lookup(s) }

// TiercelStatus is the task status name used by the Tiercel download library.
type TiercelStatus string

const (
	TiercelWaiting     TiercelStatus = "waiting"
	TiercelRunning     TiercelStatus = "running"
	TiercelSuspended   TiercelStatus = "suspended"
	TiercelCanceled    TiercelStatus = "canceled"
	TiercelFailed      TiercelStatus = "failed"
	TiercelRemoved     TiercelStatus = "removed"
	TiercelSucceeded   TiercelStatus = "succeeded"
	TiercelWillSuspend TiercelStatus = "willSuspend"
	TiercelWillCancel  TiercelStatus = "willCancel"
	TiercelWillRemove  TiercelStatus = "willRemove"
)

var tiercelTable = Table[TiercelStatus]{
	TiercelRunning:   StatusRunning,
	TiercelSuspended: StatusSuspended,
	TiercelSucceeded: StatusCompleted,
}

func (s TiercelStatus) Canonical() Status { return tiercelTable.Lookup(s) }
