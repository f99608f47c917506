// File: api/service.go
// Author: momentics <momentics@gmail.com>
//
// Opaque collaborator types the endpoint carries but never interprets.
// The service object that decodes opcodes and the per-channel state it
// attaches to a channel are both supplied by, and meaningful only to, the
// service.

package api

// Service is the opaque dispatcher the endpoint hands messages to. The
// endpoint stores a non-owning reference to it and never calls into it.
type Service interface{}

// Channel is opaque per-channel state a service attaches to a channel via
// Endpoint.SetChannel. The endpoint stores a non-owning reference and
// returns it unchanged from GetChannelState.
type Channel interface{}
