package media

// Queue capacities used between pipeline stages to decouple production from
// consumption. Sized to bound memory while absorbing ~1s of jitter at
// typical rates: 30 video frames ≈ 1s at 30fps, 50 PCM frames ≈ 1.2s at
// 44.1kHz with 1024-sample frames, 100 packets per stream.
const (
	VideoFrameQueueSize = 30
	PCMQueueSize        = 50
	PacketQueueSize     = 100
)

// StreamKind identifies the elementary stream a packet belongs to.
type StreamKind uint8

const (
	StreamUnknown StreamKind = iota
	StreamAudio
	StreamVideo
)

// String returns "audio", "video", or "unknown".
func (k StreamKind) String() string {
	switch k {
	case StreamAudio:
		return "audio"
	case StreamVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Packet is one encoded unit read from the packet source. The payload is
// opaque to the engine; only the demuxer and the codec interpret it. A
// packet is owned by exactly one queue slot or stage at a time and is handed
// off by moving the pointer, never by copying the payload.
type Packet struct {
	Kind        StreamKind
	StreamIndex int
	Data        []byte
	PTS         Timestamp
	DTS         Timestamp
	Duration    Timestamp
	Keyframe    bool

	// Seq is the per-stream demux sequence number, used by source backends
	// that decode in demux order.
	Seq uint64
}
