// Package audit delivers security events off the request path.
//
// A [Dispatcher] buffers events and hands them to a [Sink] on its own
// goroutine. When the buffer is full it either drops the event and counts it
// (DropIfFull) or blocks the caller until space frees up or ctx ends.
//
// Sinks: [NoOpSink], [ChannelSink], [JSONWriterSink] and [SlogSink].
package audit
