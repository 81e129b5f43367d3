// Package engine runs the collision search.
//
// A Search owns the channel ledger, the distinguished point table, the set of
// pairs already resolved in the log and the clock adjuster. Channel drivers
// feed it samples; it links each sample to its channel, inserts published
// points into the table and queues every match for reconciliation.
//
// Data flow:
//
//	samples -> Ledger -> Table -> job queue -> reconcile workers
//	                                                |
//	                           log + store <- outcome writer
//
// Startup order:
//
//	s.Start(ctx)            // workers and writer
//	s.Replay(ctx, reader)   // rebuild from the log
//	s.CatchUp(ctx)          // resolve matches the log has no outcome for
//	s.BeginSession(ctx, t)  // S record, forget channel lasts
//	... s.Ingest(sample) from drivers ...
//	s.Close()               // drain queued jobs
//
// Ingest and match detection happen under one mutex. Reconciliation, which
// re-runs whole chain segments, never does.
package engine
