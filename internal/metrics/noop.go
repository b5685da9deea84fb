package metrics

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

func (n *NoopCollector) JobSubmitted(peer string, grade byte) {}

func (n *NoopCollector) JobQueued(peer string, delta int) {}

func (n *NoopCollector) CommandExecuted(command string, success bool, duration float64) {}

func (n *NoopCollector) BytesTransferred(peer string, direction string, bytes int64) {}

func (n *NoopCollector) CallAttempt(peer string, status string) {}
