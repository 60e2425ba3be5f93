// Package types defines the shared kernel of swarmflow: structured errors,
// resource allocation records, and the resilience event working set carried
// between the allocator, the step executor, and the resilience publisher.
package types
