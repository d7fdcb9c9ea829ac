// Package channel implements the host/worker wire protocol: newline-delimited
// JSON frames over the worker's standard input and output. The host writes
// call frames and reads response frames; the worker does the reverse with the
// same codec.
//
// A single reader goroutine owns the inbound side of a Channel and correlates
// response frames to in-flight calls by id. Stream chunks are buffered per
// call without bound so a slow stream consumer never stalls heartbeat
// processing for the whole channel.
package channel
