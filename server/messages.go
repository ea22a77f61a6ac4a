package server

import "github.com/joeycumines/go-fastsync/backend"

// Handle is the server-allocated value naming one object instance.
type Handle uint32

// Empty is the reply of calls that return nothing.
type Empty struct{}

type HelloRequest struct {
	Backend backend.Kind `json:"backend"`
	PID     int          `json:"pid"`
}

type HelloReply struct {
	Segment  string       `json:"segment"`
	PageSize int          `json:"page_size,omitempty"`
	Backend  backend.Kind `json:"backend"`
}

type CreateRequest struct {
	Name    string     `json:"name,omitempty"`
	Initial uint32     `json:"initial"`
	Max     uint32     `json:"max,omitempty"`
	Kind    ObjectKind `json:"kind"`
}

// CreateReply describes a new object, or the existing object of the same
// name when Existed is set; the client initializes the record only for new
// objects.
type CreateReply struct {
	Descriptor backend.Descriptor `json:"descriptor"`
	Handle     Handle             `json:"handle"`
	Index      uint32             `json:"index"`
	Existed    bool               `json:"existed,omitempty"`
}

type OpenRequest struct {
	Name string `json:"name"`
}

type OpenReply struct {
	Descriptor backend.Descriptor `json:"descriptor"`
	Handle     Handle             `json:"handle"`
	Index      uint32             `json:"index"`
	Kind       ObjectKind         `json:"kind"`
}

type DescriptorRequest struct {
	Handle Handle `json:"handle"`
}

type DescriptorReply struct {
	Descriptor backend.Descriptor `json:"descriptor"`
	Index      uint32             `json:"index"`
	Kind       ObjectKind         `json:"kind"`
}

type CloseRequest struct {
	Handle Handle `json:"handle"`
}

type RegisterWaitRequest struct {
	Indices   []uint32 `json:"indices"`
	Semaphore int      `json:"semaphore"`
	TID       uint32   `json:"tid"`
}

type UnregisterWaitRequest struct {
	TID uint32 `json:"tid"`
}

type WakeRequest struct {
	Index uint32 `json:"index"`
}
