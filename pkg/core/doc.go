// Package core defines the task, worker, and rate-limit models shared by
// every taskmill package, along with the Storage interface and the event
// names the engine emits.
package core
