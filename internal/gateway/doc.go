// Package gateway assembles a running authgate from a configuration: it
// builds the pipeline snapshot (locations, content handlers and the merged
// authRequest directive of every location), registers the gate, wraps each
// server in the outer middleware and owns the listeners.
//
// Reload rebuilds the snapshot and swaps it into the engine; requests in
// flight finish on the snapshot they started with. Listener addresses and
// rate limits are fixed at Start.
package gateway
