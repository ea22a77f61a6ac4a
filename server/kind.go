package server

import (
	"fmt"
	"strings"
)

// ObjectKind tags every synchronization object on the wire.
type ObjectKind uint8

const (
	// KindNone is an object the fast path cannot represent (processes,
	// threads, files...). Waits on it must go through the server.
	KindNone ObjectKind = iota
	// KindSemaphore is a counting semaphore with a shared {count, max} record.
	KindSemaphore
	// KindMutex is a recursive mutex with a shared {owner, recursion} record.
	KindMutex
	// KindAutoEvent is an auto-reset event with a shared record.
	KindAutoEvent
	// KindManualEvent is a manual-reset event with a shared record.
	KindManualEvent
	// KindServerAuto is server-managed and auto-reset: it has no shared
	// record, the wake primitive alone carries its state.
	KindServerAuto
	// KindServerManual is server-managed and manual-reset.
	KindServerManual
)

var kindNames = [...]string{
	KindNone:         "none",
	KindSemaphore:    "semaphore",
	KindMutex:        "mutex",
	KindAutoEvent:    "auto-event",
	KindManualEvent:  "manual-event",
	KindServerAuto:   "server-auto",
	KindServerManual: "server-manual",
}

func (k ObjectKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseObjectKind is the inverse of ObjectKind.String.
func ParseObjectKind(s string) (ObjectKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return ObjectKind(k), nil
		}
	}
	return KindNone, fmt.Errorf("server: unknown object kind %q", s)
}

// Valid reports whether k is a known kind.
func (k ObjectKind) Valid() bool { return int(k) < len(kindNames) }

// HasRecord reports whether objects of kind k own a shared state record.
func (k ObjectKind) HasRecord() bool {
	switch k {
	case KindSemaphore, KindMutex, KindAutoEvent, KindManualEvent:
		return true
	default:
		return false
	}
}

// IsEvent reports whether k is any event kind.
func (k ObjectKind) IsEvent() bool {
	switch k {
	case KindAutoEvent, KindManualEvent, KindServerAuto, KindServerManual:
		return true
	default:
		return false
	}
}

// ManualReset reports whether a successful wait leaves the object signalled.
func (k ObjectKind) ManualReset() bool {
	return k == KindManualEvent || k == KindServerManual
}
