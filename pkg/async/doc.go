// Package async provides safe concurrent execution helpers for background
// tasks: fire-and-forget goroutines with panic recovery and timeouts, and
// bounded-concurrency batch processing.
package async
