package fastsync

import (
	"strconv"

	"github.com/joeycumines/go-fastsync/backend"
)

// Environment switches, one per backend. The server must be started with the
// same switch.
const (
	EnvEventFD = "FASTSYNC_EVENTFD"
	EnvPort    = "FASTSYNC_PORT"
)

// ConfigFromEnv selects the backend from the environment, using getenv
// (typically os.Getenv). A switch is on when it parses as a true boolean or
// a positive integer. Enabling both is a *FatalError.
func ConfigFromEnv(getenv func(string) string) (backend.Kind, error) {
	eventfd, port := envEnabled(getenv(EnvEventFD)), envEnabled(getenv(EnvPort))
	switch {
	case eventfd && port:
		return backend.KindNone, &FatalError{Reason: EnvEventFD + " and " + EnvPort + " are mutually exclusive"}
	case eventfd:
		return backend.KindEventFD, nil
	case port:
		return backend.KindPort, nil
	default:
		return backend.KindNone, nil
	}
}

func envEnabled(v string) bool {
	if v == "" {
		return false
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	n, err := strconv.Atoi(v)
	return err == nil && n > 0
}
