// Package poller runs the poll cycle: fetch, validate, detect a status
// change, notify, sleep.
package poller
