// Package httputil provides HTTP-level utilities shared by the registry
// clients: retry with exponential backoff for transient failures, and a
// file-based response cache keyed by request identity.
package httputil
