// Package server defines the coordination channel between a client process
// and the central server that allocates synchronization objects.
//
// The channel is a gRPC service, fastsync.v1.Coordinator, whose messages are
// plain Go structs carried by a JSON codec (see Codec). A process typically
// reaches its server through an in-process channel (NewInProcess) in tests,
// or through a regular gRPC connection using the codec with grpc.ForceCodec.
//
// Only the message and client side live here; the server implementation is
// out of scope, except for the CoordinatorServer interface it must satisfy.
package server
