/*
Package types defines the event records, keys and snapshot structures shared by
every iotrace component, plus the interfaces that connect them.

# Events

Five event kinds drive the tracer. The first four describe one NFS request as
it crosses the NFS client, the SUNRPC layer and back:

	InitiateEvent     nfs_initiate_read / nfs_initiate_write
	TaskBeginEvent    rpc_task_begin
	TaskEndEvent      rpc_task_end
	CompletionEvent   nfs_readpage_done / nfs_writeback_done

RTTEvent is a tcp_rcv_established sample feeding the RTT histograms.

# Snapshots

A Snapshot is what pollers, the HTTP API, the Prometheus collector and the
archiver consume. Values are cumulative since the session started; taking a
snapshot never resets anything.

# Conventions

IPv4 addresses are uint32 with the first octet in the most significant byte,
ports are in host order, and device numbers follow the kernel's internal dev_t
layout (major in the upper 12 bits, minor in the lower 20).
*/
package types
