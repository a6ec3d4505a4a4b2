/*
Package inventory owns every parking space and session.

All operations of a Service run one at a time under a single lock, so start and end
never interleave on the same space or on the next-available cache. The cache keeps one
free space id per vehicle type: starting a session recomputes it with a full scan,
ending one points it at the space just freed.
*/
package inventory
