/*
Package adapter assembles a running iotrace instance from its configuration.

The Adapter owns the tracer and every component that reads from it:

	            events (kernel hooks or replay)
	                         │
	┌────────────────────────┴────────────────────────┐
	│                     TRACER                      │
	│  ledger ─ iostats ─ histograms ─ drop counters  │
	└────────────────────────┬────────────────────────┘
	        │          │         │          │
	┌───────┴──┐ ┌─────┴────┐ ┌──┴─────┐ ┌──┴───────┐
	│ API +    │ │ Periodic │ │Archive │ │ Ledger   │
	│ /metrics │ │ report   │ │ sink   │ │ sweeper  │
	└──────────┘ └──────────┘ └────────┘ └──────────┘

Every component is optional except the tracer and the health tracker. Run
starts the enabled ones in one errgroup; the first failure cancels the rest.

# Lifecycle

	adapter, err := adapter.New(ctx, cfg, adapter.Options{})
	if err != nil {
		return err
	}
	defer adapter.Stop(context.Background())

	return adapter.Run(ctx)

When the archive is enabled, Run writes one last snapshot after ctx is done.

# Health

The ledger and the archive sink are registered with the health tracker and
probed periodically. A ledger store at capacity marks the ledger degraded,
since every request it would have tracked from then on is dropped.
*/
package adapter
