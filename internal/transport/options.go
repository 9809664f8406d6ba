package transport

const (
	defaultMaxFrameSize = 1 << 20
	hardMaxFrameSize    = 16 << 20
)

// Options configures transports (shared across TCP/WS where applicable)
type Options struct {
	MaxFrameSize   int // largest accepted payload in bytes, default 1MB, capped at 16MB
	ReadBufferSize int // socket read chunk for stream transports
}

func (o Options) maxFrame() int {
	switch {
	case o.MaxFrameSize <= 0:
		return defaultMaxFrameSize
	case o.MaxFrameSize > hardMaxFrameSize:
		return hardMaxFrameSize
	default:
		return o.MaxFrameSize
	}
}

func (o Options) readBuffer() int {
	if o.ReadBufferSize <= 0 {
		return 4096
	}
	return o.ReadBufferSize
}
