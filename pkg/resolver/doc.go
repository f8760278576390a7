// Package resolver watches the trigger field of a primary schema and swaps
// the secondary schema in and out as its value changes. Fetches run in the
// background; a result is committed only if, at completion time, the session
// still has the same descriptor and the trigger still holds the value the
// fetch was started for. Everything else is discarded.
package resolver
