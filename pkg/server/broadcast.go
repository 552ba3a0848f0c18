package server

// FailureFunc is called for each recipient whose write fails during a broadcast.
type FailureFunc func(conn *SafeConn, info ClientInfo, err error)

// Broadcaster fans a line out to every registered connection.
type Broadcaster struct {
	registry  *Registry
	onFailure FailureFunc
	metrics   *Metrics
}

// NewBroadcaster creates a broadcaster over registry. onFailure may be nil.
func NewBroadcaster(registry *Registry, onFailure FailureFunc) *Broadcaster {
	return &Broadcaster{
		registry:  registry,
		onFailure: onFailure,
	}
}

// SetMetrics attaches metrics to the broadcaster
func (b *Broadcaster) SetMetrics(metrics *Metrics) {
	b.metrics = metrics
}

// Broadcast writes message to every registered connection except exclude
// (nil excludes nobody) and returns the number of successful deliveries.
//
// Writes happen against a snapshot, outside the registry lock. A failed write
// is handed to the failure hook and the fan-out continues with the next
// recipient; errors are never returned to the caller.
func (b *Broadcaster) Broadcast(message string, exclude *SafeConn) int {
	if b.metrics != nil {
		defer b.metrics.ObserveBroadcast()()
	}

	delivered := 0
	for _, entry := range b.registry.Snapshot() {
		if entry.Conn == exclude {
			continue
		}

		if err := entry.Conn.WriteLine(message); err != nil {
			if b.metrics != nil {
				b.metrics.RecordBroadcastFailure()
			}
			if b.onFailure != nil {
				b.onFailure(entry.Conn, entry.Info, err)
			}
			continue
		}
		delivered++
	}
	return delivered
}
