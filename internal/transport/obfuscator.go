package transport

import (
	"strconv"
	"strings"
)

// printable range the substitution rotates over: '!'..'~' plus DEL.
const (
	obfLow   = ' ' + 1
	obfRange = 127 - ' '
)

// obfStream is one direction of the rotating substitution. State is kept in
// int32 so wraparound and sign-extending shifts match the server.
type obfStream struct {
	w, z  int32
	chars int
}

func newObfStream(seed string, wMul, zMul int32) obfStream {
	var s obfStream
	for i := 0; i < len(seed); i++ {
		s.w = s.w*wMul + int32(seed[i])
	}
	for i := 0; i < len(seed); i++ {
		s.z = s.z*zMul + int32(seed[i])
	}
	return s
}

func (s *obfStream) next() int32 {
	s.z = 36969*(s.z&65535) + (s.z >> 16)
	s.w = 18000*(s.w&65535) + (s.w >> 16)
	s.chars++
	return 0x3f & s.w
}

func (s *obfStream) encode(data []byte) {
	for i, b := range data {
		if !obfuscatable(b) {
			continue
		}
		val := s.next()
		data[i] = byte((int32(b)-obfLow+val)%obfRange + obfLow)
	}
}

func (s *obfStream) decode(data []byte) {
	for i, b := range data {
		if !obfuscatable(b) {
			continue
		}
		val := s.next()
		data[i] = byte((int32(b)-obfLow+obfRange-val)%obfRange + obfLow)
	}
}

// Whitespace, control bytes and the bytes of multi-byte UTF-8 sequences pass
// through untouched.
func obfuscatable(b byte) bool {
	return b > ' ' && b < 0x80
}

// Obfuscator holds the two independent streams of one connection end.
type Obfuscator struct {
	in  obfStream
	out obfStream
}

// NewClientObfuscator seeds the client side from the four session sub-keys
// and the seed the server announced.
func NewClientObfuscator(r1, r2, r3, r4, seed int32) *Obfuscator {
	inMsg, outMsg := obfSeeds(r1, r2, r3, r4, seed)
	return &Obfuscator{
		out: newObfStream(inMsg, 13, 31),
		in:  newObfStream(outMsg, 17, 23),
	}
}

// NewServerObfuscator is the mirror of NewClientObfuscator: what the client
// encodes the server decodes and the other way round.
func NewServerObfuscator(r1, r2, r3, r4, seed int32) *Obfuscator {
	inMsg, outMsg := obfSeeds(r1, r2, r3, r4, seed)
	return &Obfuscator{
		out: newObfStream(outMsg, 17, 23),
		in:  newObfStream(inMsg, 13, 31),
	}
}

func obfSeeds(r1, r2, r3, r4, seed int32) (string, string) {
	return dotted(r1+1, r2+2, r3+3, r4+4, seed+2), dotted(r1+3, r2+6, r3+9, r4+12, seed+1)
}

func dotted(parts ...int32) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strconv.Itoa(int(p))
	}
	return strings.Join(out, ".")
}

// Encode obfuscates an outbound buffer in place.
func (o *Obfuscator) Encode(data []byte) { o.out.encode(data) }

// Decode reverses the peer's encoding of an inbound buffer in place.
func (o *Obfuscator) Decode(data []byte) { o.in.decode(data) }

// Chars reports how many bytes each stream has transformed.
func (o *Obfuscator) Chars() (in, out int) { return o.in.chars, o.out.chars }
