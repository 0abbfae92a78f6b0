package media

// Encoder compresses one frame of PCM16 samples.
type Encoder interface {
	Encode(samples []int16) ([]byte, error)
}

// Decoder expands one compressed packet to PCM16 samples.
type Decoder interface {
	Decode(packet []byte) ([]int16, error)
}

// Codec creates encoders and decoders for a format.
type Codec interface {
	Name() string
	NewEncoder(format Format) (Encoder, error)
	NewDecoder(format Format) (Decoder, error)
}

// PCMCodec passes little-endian PCM16 through unchanged.
type PCMCodec struct{}

// Name returns "pcm16".
func (PCMCodec) Name() string { return "pcm16" }

// NewEncoder returns a PCM16 encoder.
func (PCMCodec) NewEncoder(Format) (Encoder, error) { return pcmCoder{}, nil }

// NewDecoder returns a PCM16 decoder.
func (PCMCodec) NewDecoder(Format) (Decoder, error) { return pcmCoder{}, nil }

type pcmCoder struct{}

func (pcmCoder) Encode(samples []int16) ([]byte, error) { return Int16ToBytes(samples), nil }

func (pcmCoder) Decode(packet []byte) ([]int16, error) { return BytesToInt16(packet) }
