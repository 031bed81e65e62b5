// Package notifier delivers status messages to the destination chat.
//
// Sends are synchronous: the poll loop needs to know whether a change
// notification actually landed before it advances its window. Each send is
// throttled by a token bucket and retried with jittered exponential backoff on
// transport errors.
//
// # Confirmation
//
// Send returns the text the transport reports it stored. Callers compare it
// with what they asked for; a mismatch is a delivery failure even though the
// API call succeeded.
//
// # History
//
// For debugging, the service keeps a small in-memory history of recently
// delivered messages.
package notifier
