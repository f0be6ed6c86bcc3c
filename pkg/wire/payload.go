package wire

// Command payloads.

// CreateInterfaceParams instantiates a virtual interface in firmware.
type CreateInterfaceParams struct {
	Index       uint8       `cbor:"1,keyasint"`
	NetworkType NetworkType `cbor:"2,keyasint"`
	P2P         bool        `cbor:"3,keyasint,omitempty"`
	MAC         MACAddr     `cbor:"4,keyasint"`
}

// ConnectParams starts a full association.
type ConnectParams struct {
	NetworkType    NetworkType `cbor:"1,keyasint"`
	Dot11Auth      Dot11Auth   `cbor:"2,keyasint"`
	AuthMode       AuthMode    `cbor:"3,keyasint"`
	PairwiseCipher Cipher      `cbor:"4,keyasint"`
	GroupCipher    Cipher      `cbor:"5,keyasint"`
	SSID           []byte      `cbor:"6,keyasint"`
	BSSID          MACAddr     `cbor:"7,keyasint,omitempty"`
	Channel        uint16      `cbor:"8,keyasint,omitempty"`
	PMK            []byte      `cbor:"9,keyasint,omitempty"`
}

// ReconnectParams re-associates with a cached BSS.
type ReconnectParams struct {
	BSSID   MACAddr `cbor:"1,keyasint,omitempty"`
	Channel uint16  `cbor:"2,keyasint,omitempty"`
}

// DisconnectParams tears down the current association.
type DisconnectParams struct {
	Reason DisconnectReason `cbor:"1,keyasint"`
}

// KeyParams installs a pairwise or group key.
type KeyParams struct {
	Index  uint8    `cbor:"1,keyasint"`
	Usage  KeyUsage `cbor:"2,keyasint"`
	Cipher Cipher   `cbor:"3,keyasint"`
	Key    []byte   `cbor:"4,keyasint"`
	RSC    []byte   `cbor:"5,keyasint,omitempty"`
	MAC    MACAddr  `cbor:"6,keyasint,omitempty"`
	TxKey  bool     `cbor:"7,keyasint,omitempty"`
}

// DeleteKeyParams removes an installed key.
type DeleteKeyParams struct {
	Index uint8 `cbor:"1,keyasint"`
}

// ListenIntervalParams sets the station listen interval in TUs.
type ListenIntervalParams struct {
	Interval uint16 `cbor:"1,keyasint"`
}

// BmissParams sets the beacon miss timeout in TUs.
type BmissParams struct {
	Time uint16 `cbor:"1,keyasint"`
}

// BmissEnhanceParams toggles enhanced idle (beacon miss) detection.
type BmissEnhanceParams struct {
	Enable bool `cbor:"1,keyasint"`
}

// ScanParams tunes background and foreground scanning.
// A BgPeriod of ScanPeriodDisabled turns background scanning off.
type ScanParams struct {
	FgStartPeriod uint16 `cbor:"1,keyasint"`
	FgEndPeriod   uint16 `cbor:"2,keyasint"`
	BgPeriod      uint16 `cbor:"3,keyasint"`
	MinActDwell   uint16 `cbor:"4,keyasint"`
	MaxActDwell   uint16 `cbor:"5,keyasint"`
	PassiveDwell  uint16 `cbor:"6,keyasint"`
}

// ScanPeriodDisabled disables a scan period.
const ScanPeriodDisabled uint16 = 0xffff

// DefaultScanParams returns the scan parameters firmware boots with.
func DefaultScanParams() ScanParams {
	return ScanParams{
		FgStartPeriod: 0,
		FgEndPeriod:   0,
		BgPeriod:      60,
		MinActDwell:   20,
		MaxActDwell:   40,
		PassiveDwell:  105,
	}
}

// PowerModeParams selects the station power save mode.
type PowerModeParams struct {
	Mode PowerMode `cbor:"1,keyasint"`
}

// StartScanParams starts an immediate scan.
// An empty channel list scans every supported channel.
type StartScanParams struct {
	Type            ScanType `cbor:"1,keyasint"`
	ForceForeground bool     `cbor:"2,keyasint,omitempty"`
	Passive         bool     `cbor:"3,keyasint,omitempty"`
	Channels        []uint16 `cbor:"4,keyasint,omitempty"`
}

// ProbedSSIDParams sets one entry of the probed SSID table.
type ProbedSSIDParams struct {
	Index uint8     `cbor:"1,keyasint"`
	Flag  ProbeFlag `cbor:"2,keyasint"`
	SSID  []byte    `cbor:"3,keyasint,omitempty"`
}

// SchedScanParams configures periodic scanning.
type SchedScanParams struct {
	IntervalMS uint32   `cbor:"1,keyasint"`
	Channels   []uint16 `cbor:"2,keyasint,omitempty"`
}

// EnableSchedScanParams toggles periodic scanning.
type EnableSchedScanParams struct {
	Enable bool `cbor:"1,keyasint"`
}

// RSSIFilterParams drops scan results weaker than Threshold dBm.
type RSSIFilterParams struct {
	Threshold int8 `cbor:"1,keyasint"`
}

// StartAPParams brings up a BSS in AP mode.
type StartAPParams struct {
	SSID           []byte   `cbor:"1,keyasint"`
	Channel        uint16   `cbor:"2,keyasint"`
	BeaconInterval uint16   `cbor:"3,keyasint,omitempty"`
	DTIMPeriod     uint8    `cbor:"4,keyasint,omitempty"`
	Hidden         bool     `cbor:"5,keyasint,omitempty"`
	AuthMode       AuthMode `cbor:"6,keyasint"`
	PairwiseCipher Cipher   `cbor:"7,keyasint"`
	GroupCipher    Cipher   `cbor:"8,keyasint"`
	PMK            []byte   `cbor:"9,keyasint,omitempty"`
}

// McastFilterParams toggles the multicast filter while suspended.
type McastFilterParams struct {
	Enable bool `cbor:"1,keyasint"`
}

// WowPatternParams adds a wake-on-wireless match pattern.
// Mask holds one byte per pattern byte (0xff to compare, 0x00 to ignore).
type WowPatternParams struct {
	ListID  uint8  `cbor:"1,keyasint"`
	Offset  uint8  `cbor:"2,keyasint"`
	Pattern []byte `cbor:"3,keyasint"`
	Mask    []byte `cbor:"4,keyasint"`
}

// WowModeParams enables or disables wake-on-wireless.
type WowModeParams struct {
	Enable         bool      `cbor:"1,keyasint"`
	Filters        WowFilter `cbor:"2,keyasint,omitempty"`
	HostReqDelayMS uint16    `cbor:"3,keyasint,omitempty"`
}

// HostSleepParams tells firmware the host sleep state.
type HostSleepParams struct {
	State HostSleepState `cbor:"1,keyasint"`
}

// RemainOnChannelParams parks the radio on a channel.
type RemainOnChannelParams struct {
	Freq       uint16 `cbor:"1,keyasint"`
	DurationMS uint32 `cbor:"2,keyasint"`
}

// ActionParams transmits a management action frame.
type ActionParams struct {
	ID     uint32 `cbor:"1,keyasint"`
	Freq   uint16 `cbor:"2,keyasint"`
	WaitMS uint32 `cbor:"3,keyasint,omitempty"`
	Frame  []byte `cbor:"4,keyasint"`
	NoCCK  bool   `cbor:"5,keyasint,omitempty"`
}

// Event and reply payloads.

// Capabilities is the feature set the firmware reports at bring-up.
type Capabilities struct {
	BmissEnhance    bool  `cbor:"1,keyasint,omitempty"`
	WowMcastFilter  bool  `cbor:"2,keyasint,omitempty"`
	ScanRSSIFilter  bool  `cbor:"3,keyasint,omitempty"`
	SchedScanMatch  bool  `cbor:"4,keyasint,omitempty"`
	AdHocExclusive  bool  `cbor:"5,keyasint,omitempty"`
	DeepSleep       bool  `cbor:"6,keyasint,omitempty"`
	P2P             bool  `cbor:"7,keyasint,omitempty"`
	MaxNormalIfaces uint8 `cbor:"8,keyasint,omitempty"`
}

// ReadyInfo is carried by EvReady.
type ReadyInfo struct {
	MAC             MACAddr      `cbor:"1,keyasint"`
	FirmwareVersion string       `cbor:"2,keyasint,omitempty"`
	MaxInterfaces   uint8        `cbor:"3,keyasint"`
	Capabilities    Capabilities `cbor:"4,keyasint"`
}

// InterfaceReadyInfo is carried by EvInterfaceReady.
type InterfaceReadyInfo struct {
	Index uint8   `cbor:"1,keyasint"`
	MAC   MACAddr `cbor:"2,keyasint"`
}

// ConnectInfo is carried by EvConnect and EvRoam.
type ConnectInfo struct {
	Channel        uint16      `cbor:"1,keyasint"`
	BSSID          MACAddr     `cbor:"2,keyasint"`
	ListenInterval uint16      `cbor:"3,keyasint,omitempty"`
	BeaconInterval uint16      `cbor:"4,keyasint,omitempty"`
	NetworkType    NetworkType `cbor:"5,keyasint,omitempty"`
	AssocReqIEs    []byte      `cbor:"6,keyasint,omitempty"`
	AssocRespIEs   []byte      `cbor:"7,keyasint,omitempty"`
}

// DisconnectInfo is carried by EvDisconnect.
type DisconnectInfo struct {
	Reason         DisconnectReason `cbor:"1,keyasint"`
	BSSID          MACAddr          `cbor:"2,keyasint,omitempty"`
	ProtocolReason uint16           `cbor:"3,keyasint,omitempty"`
}

// BSSInfo is carried by EvScanResult.
type BSSInfo struct {
	BSSID          MACAddr `cbor:"1,keyasint"`
	SSID           []byte  `cbor:"2,keyasint,omitempty"`
	Channel        uint16  `cbor:"3,keyasint"`
	RSSI           int8    `cbor:"4,keyasint"`
	BeaconInterval uint16  `cbor:"5,keyasint,omitempty"`
	Capability     uint16  `cbor:"6,keyasint,omitempty"`
}

// ScanCompleteInfo is carried by EvScanComplete.
type ScanCompleteInfo struct {
	Aborted bool `cbor:"1,keyasint,omitempty"`
}

// WakeReasonInfo is the reply payload of OpGetWakeReason.
type WakeReasonInfo struct {
	Reason WakeReason `cbor:"1,keyasint"`
}

// RemainOnChannelInfo is carried by EvRemainOnChannel and
// EvCancelRemainOnChannel.
type RemainOnChannelInfo struct {
	Freq       uint16 `cbor:"1,keyasint"`
	DurationMS uint32 `cbor:"2,keyasint,omitempty"`
}

// ActionTxStatusInfo is carried by EvActionTxStatus.
type ActionTxStatusInfo struct {
	ID  uint32 `cbor:"1,keyasint"`
	Ack bool   `cbor:"2,keyasint"`
}
