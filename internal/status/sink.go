package status

// Sink receives published status lines.
type Sink interface {
	Publish(line string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(line string)

// Publish calls f.
func (f SinkFunc) Publish(line string) { f(line) }

// MultiSink fans a line out to every sink in order.
type MultiSink []Sink

// Publish forwards line to each non-nil sink.
func (m MultiSink) Publish(line string) {
	for _, sink := range m {
		if sink != nil {
			sink.Publish(line)
		}
	}
}
