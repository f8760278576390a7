// Package session wires the resolver, the buffers, the validator and the
// submission controller of one configuration session behind a single
// object. A session is scoped to one descriptor at a time; setting a new
// descriptor discards everything the previous one accumulated.
package session
