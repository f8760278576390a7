// Package buffer owns the two independent data buffers of a configuration
// session: the primary form and the secondary form loaded through the
// trigger field. Buffers are snapshots, replaced wholesale on every change,
// and are merged into one document at submission time.
package buffer
