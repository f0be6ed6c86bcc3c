package wire

import (
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidMAC is returned by ParseMAC for malformed input.
var ErrInvalidMAC = errors.New("invalid MAC address")

// MACAddr is an IEEE 802 MAC address.
type MACAddr [6]byte

// BroadcastMAC is ff:ff:ff:ff:ff:ff.
var BroadcastMAC = MACAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseMAC parses "aa:bb:cc:dd:ee:ff" (or '-' separated) notation.
func ParseMAC(s string) (MACAddr, error) {
	var mac MACAddr
	s = strings.ReplaceAll(s, "-", ":")
	parts := strings.Split(s, ":")
	if len(parts) != len(mac) {
		return MACAddr{}, ErrInvalidMAC
	}
	for i, p := range parts {
		if len(p) != 2 {
			return MACAddr{}, ErrInvalidMAC
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return MACAddr{}, ErrInvalidMAC
		}
		mac[i] = b[0]
	}
	return mac, nil
}

// String returns colon-separated lower-case hex.
func (m MACAddr) String() string {
	const digits = "0123456789abcdef"
	buf := make([]byte, 0, 17)
	for i, b := range m {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, digits[b>>4], digits[b&0x0f])
	}
	return string(buf)
}

// IsZero returns true for 00:00:00:00:00:00.
func (m MACAddr) IsZero() bool {
	return m == MACAddr{}
}

// IsBroadcast returns true for ff:ff:ff:ff:ff:ff.
func (m MACAddr) IsBroadcast() bool {
	return m == BroadcastMAC
}

// DisconnectReason is the firmware's reason for a disconnect event.
type DisconnectReason uint8

const (
	// ReasonUnspecified is a host-initiated disconnect with no firmware
	// reason attached.
	ReasonUnspecified DisconnectReason = 0

	ReasonNoNetworkAvail    DisconnectReason = 1
	ReasonLostLink          DisconnectReason = 2
	ReasonDisconnectCmd     DisconnectReason = 3
	ReasonBSSDisconnected   DisconnectReason = 4
	ReasonAuthFailed        DisconnectReason = 5
	ReasonAssocFailed       DisconnectReason = 6
	ReasonNoResourcesAvail  DisconnectReason = 7
	ReasonCSServDisconnect  DisconnectReason = 8
	ReasonInvalidProfile    DisconnectReason = 10
	ReasonChannelSwitch     DisconnectReason = 11
	ReasonProfileMismatch   DisconnectReason = 12
	ReasonConnectionEvicted DisconnectReason = 13
	ReasonIBSSMerge         DisconnectReason = 14
)

// String returns the reason name.
func (r DisconnectReason) String() string {
	switch r {
	case ReasonUnspecified:
		return "UNSPECIFIED"
	case ReasonNoNetworkAvail:
		return "NO_NETWORK_AVAIL"
	case ReasonLostLink:
		return "LOST_LINK"
	case ReasonDisconnectCmd:
		return "DISCONNECT_CMD"
	case ReasonBSSDisconnected:
		return "BSS_DISCONNECTED"
	case ReasonAuthFailed:
		return "AUTH_FAILED"
	case ReasonAssocFailed:
		return "ASSOC_FAILED"
	case ReasonNoResourcesAvail:
		return "NO_RESOURCES_AVAIL"
	case ReasonCSServDisconnect:
		return "CSERV_DISCONNECT"
	case ReasonInvalidProfile:
		return "INVALID_PROFILE"
	case ReasonChannelSwitch:
		return "CHANNEL_SWITCH"
	case ReasonProfileMismatch:
		return "PROFILE_MISMATCH"
	case ReasonConnectionEvicted:
		return "CONNECTION_EVICTED"
	case ReasonIBSSMerge:
		return "IBSS_MERGE"
	default:
		return "UNKNOWN"
	}
}

// FirmwareDisconnected reports whether the firmware has already torn the
// association down for this reason, so that no disconnect command is needed.
func (r DisconnectReason) FirmwareDisconnected() bool {
	switch r {
	case ReasonDisconnectCmd, ReasonBSSDisconnected, ReasonLostLink, ReasonNoNetworkAvail:
		return true
	default:
		return false
	}
}

// NetworkType is the BSS type of a link.
type NetworkType uint8

const (
	NetworkInfra NetworkType = 1
	NetworkAdHoc NetworkType = 2
	NetworkAP    NetworkType = 16
)

// String returns the network type name.
func (n NetworkType) String() string {
	switch n {
	case NetworkInfra:
		return "INFRA"
	case NetworkAdHoc:
		return "ADHOC"
	case NetworkAP:
		return "AP"
	default:
		return "UNKNOWN"
	}
}

// Dot11Auth is the 802.11 authentication algorithm.
type Dot11Auth uint8

const (
	Dot11AuthOpen   Dot11Auth = 1
	Dot11AuthShared Dot11Auth = 2
)

// AuthMode is the key management suite.
type AuthMode uint8

const (
	AuthNone    AuthMode = 1
	AuthWPAPSK  AuthMode = 2
	AuthWPA2PSK AuthMode = 3
)

// String returns the auth mode name.
func (a AuthMode) String() string {
	switch a {
	case AuthNone:
		return "NONE"
	case AuthWPAPSK:
		return "WPA_PSK"
	case AuthWPA2PSK:
		return "WPA2_PSK"
	default:
		return "UNKNOWN"
	}
}

// IsPSK returns true for the pre-shared key suites.
func (a AuthMode) IsPSK() bool {
	return a == AuthWPAPSK || a == AuthWPA2PSK
}

// Cipher is the firmware cipher identifier.
type Cipher uint8

const (
	CipherNone Cipher = 1
	CipherWEP  Cipher = 2
	CipherTKIP Cipher = 3
	CipherAES  Cipher = 4
	CipherWAPI Cipher = 5
)

// String returns the cipher name.
func (c Cipher) String() string {
	switch c {
	case CipherNone:
		return "NONE"
	case CipherWEP:
		return "WEP"
	case CipherTKIP:
		return "TKIP"
	case CipherAES:
		return "AES"
	case CipherWAPI:
		return "WAPI"
	default:
		return "UNKNOWN"
	}
}

// KeyUsage says how an installed key is used.
type KeyUsage uint8

const (
	KeyUsagePairwise KeyUsage = 1
	KeyUsageGroup    KeyUsage = 2
)

// PowerMode is the station power save mode.
type PowerMode uint8

const (
	// PowerRec lets firmware sleep between beacons.
	PowerRec PowerMode = 1
	// PowerMaxPerf keeps the radio awake.
	PowerMaxPerf PowerMode = 2
)

// String returns the power mode name.
func (p PowerMode) String() string {
	switch p {
	case PowerRec:
		return "REC_POWER"
	case PowerMaxPerf:
		return "MAX_PERF"
	default:
		return "UNKNOWN"
	}
}

// HostSleepState tells firmware whether the host is asleep.
type HostSleepState uint8

const (
	HostAwake  HostSleepState = 1
	HostAsleep HostSleepState = 2
)

// ScanType selects the scan duration class.
type ScanType uint8

const (
	ScanLong  ScanType = 0
	ScanShort ScanType = 1
)

// ProbeFlag is the probed SSID table entry mode.
type ProbeFlag uint8

const (
	ProbeDisable  ProbeFlag = 0
	ProbeSpecific ProbeFlag = 1
	ProbeAny      ProbeFlag = 2
	ProbeMatch    ProbeFlag = 3
)

// WakeReason is why the firmware woke the host.
type WakeReason uint8

const (
	WakeNone             WakeReason = 0
	WakeMagicPacket      WakeReason = 1
	WakeDisconnect       WakeReason = 2
	WakePatternMatch     WakeReason = 3
	WakeNetworkFound     WakeReason = 4
	WakeGTKRekeyFailure  WakeReason = 5
	WakeEAPRequest       WakeReason = 6
	WakeFourWayHandshake WakeReason = 7
	WakeUnknown          WakeReason = 0xff
)

// String returns the wake reason name.
func (w WakeReason) String() string {
	switch w {
	case WakeNone:
		return "NONE"
	case WakeMagicPacket:
		return "MAGIC_PACKET"
	case WakeDisconnect:
		return "DISCONNECT"
	case WakePatternMatch:
		return "PATTERN_MATCH"
	case WakeNetworkFound:
		return "NETWORK_FOUND"
	case WakeGTKRekeyFailure:
		return "GTK_REKEY_FAILURE"
	case WakeEAPRequest:
		return "EAP_REQUEST"
	case WakeFourWayHandshake:
		return "FOUR_WAY_HANDSHAKE"
	default:
		return "UNKNOWN"
	}
}

// WowFilter is the firmware wake filter option mask.
type WowFilter uint32

const (
	WowFilterDisassoc    WowFilter = 1 << 0
	WowFilterMagicPacket WowFilter = 1 << 1
	WowFilterGTKError    WowFilter = 1 << 2
	WowFilterEAPRequest  WowFilter = 1 << 3
	WowFilter4WayHS      WowFilter = 1 << 4
	WowFilterNetDetect   WowFilter = 1 << 5
)
