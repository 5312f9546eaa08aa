package config

import "fmt"

// Process exit codes for configuration failures.
const (
	ExitConfigUnreadable = 1
	ExitConfigEmpty      = 2
	ExitMissingAPIKey    = 3
	ExitMissingOrg       = 4
	ExitMissingSource    = 5
)

// Error is a fatal configuration problem. Code is the process exit code for
// it.
type Error struct {
	Code  int
	Field string
	Msg   string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s %s in %s", e.Field, e.Msg, DefaultFileName)
	}
	return e.Msg
}
