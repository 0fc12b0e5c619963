package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/boardlink/internal/protocol"
)

// Feature version thresholds.
const (
	FeatureObfuscation = 15
	FeatureSequence    = 16
	FeatureLock        = 17
	FeatureMoveTimes   = 18
)

// Identity is what the client presents in the intro line.
type Identity struct {
	Session    int
	Username   string
	UserID     string
	ServerKey  string
	Password   string
	BannerMode string
}

// IntroLine renders the intro command. The field order is fixed by the
// server; the fifth field is a retired cookie slot and is always "0".
func (id Identity) IntroLine() string {
	password := id.Password
	if password == "" {
		password = protocol.NoPassword
	}
	banner := id.BannerMode
	if banner == "" {
		banner = protocol.DefaultBannerMode
	}
	return protocol.SendIntro + strings.Join([]string{
		strconv.Itoa(id.Session),
		id.Username + "#" + id.UserID,
		id.ServerKey,
		password,
		"0",
		banner,
		id.UserID,
	}, " ")
}

// Handshake is the parsed intro acknowledgement.
type Handshake struct {
	SessionID         int
	ChannelID         int
	FeatureVersion    int
	SessionKey        string
	ServerIP          string
	ServerTime        int64
	BufferSize        int
	InitialPopulation int
	HasPassword       bool
}

// Features are the optional capabilities a feature version unlocks.
type Features struct {
	Obfuscation bool
	Sequence    bool
	Lock        bool
	MoveTimes   bool
}

// ObfuscationKey seeds stream obfuscation on the transport.
type ObfuscationKey struct {
	R1, R2, R3, R4 int32
	Seed           int32
}

// ParseHandshake parses the fields that follow the acknowledgement code.
func ParseHandshake(rest string) (Handshake, error) {
	tok := protocol.NewTokens(rest)
	var h Handshake
	var err error
	if h.SessionID, err = tok.Int("session_id"); err != nil {
		return Handshake{}, err
	}
	if h.ChannelID, err = tok.Int("channel_id"); err != nil {
		return Handshake{}, err
	}
	if h.FeatureVersion, err = tok.Int("feature_version"); err != nil {
		return Handshake{}, err
	}
	if h.SessionKey, err = tok.Next("session_key"); err != nil {
		return Handshake{}, err
	}
	if h.ServerIP, err = tok.Next("server_ip"); err != nil {
		return Handshake{}, err
	}
	if h.ServerTime, err = tok.Int64("server_time"); err != nil {
		return Handshake{}, err
	}
	if h.BufferSize, err = tok.Int("buffer_size"); err != nil {
		return Handshake{}, err
	}
	if h.InitialPopulation, err = tok.Int("initial_population"); err != nil {
		return Handshake{}, err
	}
	if tok.HasMore() {
		flag, err := tok.Int("password_flag")
		if err != nil {
			return Handshake{}, newError(KindMalformedHandshakeField, "parse_handshake", "password_flag", err)
		}
		switch flag {
		case 0:
			h.HasPassword = false
		case 1:
			h.HasPassword = true
		default:
			return Handshake{}, newError(KindMalformedHandshakeField, "parse_handshake",
				fmt.Sprintf("password_flag=%d", flag), nil)
		}
	}
	return h, nil
}

func (h Handshake) Features() Features {
	return Features{
		Obfuscation: h.FeatureVersion >= FeatureObfuscation && h.ServerTime&1 != 0,
		Sequence:    h.FeatureVersion >= FeatureSequence,
		Lock:        h.FeatureVersion >= FeatureLock,
		MoveTimes:   h.FeatureVersion >= FeatureMoveTimes,
	}
}

// ObfuscationKey unpacks "r1.r2.r3.r4" from the session key. The seed is
// the low 32 bits of the server time.
//
// TODO: the server time doubles as clock source and seed; confirm the seed
// truncation with the server once times pass the 32-bit range (2038).
func (h Handshake) ObfuscationKey() (ObfuscationKey, error) {
	parts := strings.Split(h.SessionKey, ".")
	if len(parts) != 4 {
		return ObfuscationKey{}, newError(KindMalformedHandshakeField, "obfuscation_key",
			fmt.Sprintf("session_key=%q", h.SessionKey), nil)
	}
	var r [4]int32
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 32)
		if err != nil {
			return ObfuscationKey{}, newError(KindMalformedHandshakeField, "obfuscation_key",
				fmt.Sprintf("session_key=%q", h.SessionKey), err)
		}
		r[i] = int32(v)
	}
	return ObfuscationKey{R1: r[0], R2: r[1], R3: r[2], R4: r[3], Seed: int32(uint32(h.ServerTime))}, nil
}

// ClockOffset is the server clock minus the local clock, reading the server
// time as seconds since the epoch.
func (h Handshake) ClockOffset(now time.Time) time.Duration {
	return time.Duration(h.ServerTime*1000-now.UnixMilli()) * time.Millisecond
}

// AckLine renders the acknowledgement the way a server sends it; the fake
// server and tests use it.
func (h Handshake) AckLine(withPasswordFlag bool) string {
	fields := []string{
		protocol.EchoIntroSelf,
		strconv.Itoa(h.SessionID),
		strconv.Itoa(h.ChannelID),
		strconv.Itoa(h.FeatureVersion),
		h.SessionKey,
		h.ServerIP,
		strconv.FormatInt(h.ServerTime, 10),
		strconv.Itoa(h.BufferSize),
		strconv.Itoa(h.InitialPopulation),
	}
	if withPasswordFlag {
		flag := "0"
		if h.HasPassword {
			flag = "1"
		}
		fields = append(fields, flag)
	}
	return strings.Join(fields, " ")
}
