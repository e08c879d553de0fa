package mailbox

// Control marks messages that jump ahead of ordinary traffic and are
// accepted silently by dead mailboxes.
type Control interface {
	ControlMessage()
}

// Cleaner is implemented by messages that must release something when a
// mailbox discards them on shutdown.
type Cleaner interface {
	Cleanup()
}

// TerminationRequest asks whichever worker receives it to exit normally.
type TerminationRequest struct {
	Reason string
}

func (TerminationRequest) ControlMessage() {}

// IsControl reports whether msg is a control message
func IsControl(msg any) bool {
	_, ok := msg.(Control)
	return ok
}
