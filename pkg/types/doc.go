// Package types defines the data structures shared across the Classroom Kit.
// It includes the chat stream event model, streaming request payloads, session
// users, and the client error taxonomy used by the transport and stream layers.
package types
