// Package errors provides classified errors for the demographics pipeline.
//
// Every failure that crosses a component boundary (fetch, process, store,
// job control) is a ClassifiedError carrying a category, severity, and retry
// strategy. The HTTPErrorAdapter maps classifications to status codes so
// handlers never hand-pick status codes per call site.
package errors
