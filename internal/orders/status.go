package orders

type Status string

const (
	StatusPendingCommit    Status = "pending_commit"
	StatusCommitted        Status = "committed"
	StatusCourierScheduled Status = "courier_scheduled"
	StatusShipped          Status = "shipped"
	StatusCompleted        Status = "completed"
	StatusCancelled        Status = "cancelled"
	StatusRefunded         Status = "refunded"
)

// Transitions are forward-only; cancelled and refunded are terminal.
// pending_commit jumps straight to courier_scheduled when the locker
// shipment is booked in the same step as the commit.
var validNext = map[Status]map[Status]bool{
	StatusPendingCommit:    {StatusCommitted: true, StatusCourierScheduled: true, StatusCancelled: true, StatusRefunded: true},
	StatusCommitted:        {StatusCourierScheduled: true, StatusShipped: true, StatusCancelled: true, StatusRefunded: true},
	StatusCourierScheduled: {StatusShipped: true, StatusCancelled: true, StatusRefunded: true},
	StatusShipped:          {StatusCompleted: true, StatusRefunded: true},
	StatusCompleted:        {},
	StatusCancelled:        {},
	StatusRefunded:         {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRefunded
}

// Committable reports whether a seller commit is still possible.
func Committable(s Status) bool {
	return s == StatusPendingCommit
}
