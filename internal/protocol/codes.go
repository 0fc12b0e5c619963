package protocol

// Command codes. SEND codes carry a trailing space so they can be used as
// line prefixes; ECHO codes are bare tokens as they appear on inbound lines.
const (
	SendIntro     = "200 "
	EchoIntroSelf = "201"

	SendPing = "302 "
	EchoPing = "303"

	SendLogRequest = "308 "
	SendNote       = "326 "

	SendMultipleCommand = "338"
	SendMultiple        = SendMultipleCommand + " "

	SendRequestLock = "342 "
	EchoRequestLock = "342"

	FailedNotUnderstood = "999"
)

// Pointer-tracking traffic is high frequency and never written to the
// communications log.
const TrackMouseMarker = "trackMouse"

// NoPassword stands in for an empty session password in the intro line.
const NoPassword = "<none>"

// DefaultBannerMode is sent when the identity carries no banner mode.
const DefaultBannerMode = "N"
