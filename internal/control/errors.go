package control

import "fmt"

// UnknownCommandError reports a command name with no registered handler.
// The inbox logs it and keeps the channel open: an unknown command is a
// client mistake, not a sign of corrupted state.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("no such control command: %q", e.Name)
}

// CommandError wraps a failure from a registered handler. The inbox treats
// it as possible state corruption and rebuilds the channel.
type CommandError struct {
	Name string
	Err  error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("control command %q: %v", e.Name, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
