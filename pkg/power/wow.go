package power

import (
	"fmt"
	"time"

	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// Wake filter limits.
const (
	MaxWowPatterns   = 4
	MaxWowPatternLen = 64

	wowListID         = 1
	wowHostReqDelayMS = 500

	DefaultNetDetectInterval = 30 * time.Second
)

// Pattern is a wake pattern matched from the start of a received frame.
// Mask holds one bit per pattern byte, least significant bit first; a set
// bit compares the byte.
type Pattern struct {
	Bytes []byte
	Mask  []byte
}

// WowConfig replaces the default wake filters with caller supplied ones.
type WowConfig struct {
	Patterns []Pattern

	Disconnect         bool
	MagicPacket        bool
	GTKRekeyFailure    bool
	EAPIdentityRequest bool
	FourWayHandshake   bool

	// NetDetect keeps scanning for known networks while asleep. A match
	// wakes the host with wire.WakeNetworkFound.
	NetDetect *NetDetect
}

// NetDetect is the network detect sub-scan run during wake on wireless.
type NetDetect struct {
	SSIDs    [][]byte
	Interval time.Duration // zero means DefaultNetDetectInterval
	Channels []uint16
}

func (n *NetDetect) interval() time.Duration {
	if n.Interval <= 0 {
		return DefaultNetDetectInterval
	}
	return n.Interval
}

func (w *WowConfig) validate() error {
	if w == nil {
		return nil
	}
	if len(w.Patterns) > MaxWowPatterns {
		return fmt.Errorf("%d wake patterns exceed %d: %w", len(w.Patterns), MaxWowPatterns, fwerr.ErrInvalidParameter)
	}
	if w.NetDetect != nil && len(w.NetDetect.SSIDs) == 0 {
		return fmt.Errorf("network detect without SSIDs: %w", fwerr.ErrInvalidParameter)
	}
	for i, p := range w.Patterns {
		if len(p.Bytes) == 0 || len(p.Bytes) > MaxWowPatternLen {
			return fmt.Errorf("wake pattern %d is %d bytes: %w", i, len(p.Bytes), fwerr.ErrInvalidParameter)
		}
		if len(p.Mask)*8 < len(p.Bytes) {
			return fmt.Errorf("wake pattern %d mask too short: %w", i, fwerr.ErrInvalidParameter)
		}
	}
	return nil
}

func (w *WowConfig) filters() wire.WowFilter {
	if w == nil {
		return 0
	}
	var f wire.WowFilter
	if w.Disconnect {
		f |= wire.WowFilterDisassoc
	}
	if w.MagicPacket {
		f |= wire.WowFilterMagicPacket
	}
	if w.GTKRekeyFailure {
		f |= wire.WowFilterGTKError
	}
	if w.EAPIdentityRequest {
		f |= wire.WowFilterEAPRequest
	}
	if w.FourWayHandshake {
		f |= wire.WowFilter4WayHS
	}
	if w.NetDetect != nil {
		f |= wire.WowFilterNetDetect
	}
	return f
}

// ExpandMask converts a bit mask into the per-byte mask firmware wants.
// Bit i of the mask, low bit of the first byte first, selects byte i.
func ExpandMask(bits []byte, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		if i/8 < len(bits) && bits[i/8]&(1<<(i%8)) != 0 {
			out[i] = 0xff
		}
	}
	return out
}

func (w *WowConfig) patterns() []wire.WowPatternParams {
	out := make([]wire.WowPatternParams, 0, len(w.Patterns))
	for _, p := range w.Patterns {
		out = append(out, wire.WowPatternParams{
			ListID:  wowListID,
			Pattern: p.Bytes,
			Mask:    ExpandMask(p.Mask, len(p.Bytes)),
		})
	}
	return out
}

// Discovery multicast (mDNS 224.0.0.251, SSDP 239.255.255.250, LLMNR
// 224.0.0.252) matched on the IPv4 destination.
var discoveryPattern = wire.WowPatternParams{
	ListID:  wowListID,
	Offset:  38,
	Pattern: []byte{0xe0, 0x00, 0x00, 0xf8},
	Mask:    []byte{0xf0, 0x00, 0x00, 0xf8},
}

func stationPatterns(mac wire.MACAddr) []wire.WowPatternParams {
	return []wire.WowPatternParams{
		{
			ListID:  wowListID,
			Pattern: mac[:],
			Mask:    []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		},
		discoveryPattern,
	}
}

func apPatterns() []wire.WowPatternParams {
	unicast := make([]byte, 21)
	unicast[20] = 0x08
	unicastMask := make([]byte, 21)
	unicastMask[0] = 0x01
	unicastMask[20] = 0x7f

	dhcp := make([]byte, 46)
	dhcpMask := make([]byte, 46)
	for i := 0; i < 6; i++ {
		dhcp[i] = 0xff
		dhcpMask[i] = 0xff
	}
	dhcp[20], dhcpMask[20], dhcpMask[21] = 0x08, 0xff, 0xff
	dhcp[45], dhcpMask[44], dhcpMask[45] = 0x43, 0xff, 0xff

	return []wire.WowPatternParams{
		{ListID: wowListID, Pattern: unicast, Mask: unicastMask},
		{ListID: wowListID, Offset: 20, Pattern: []byte{0x08, 0x06}, Mask: []byte{0xff, 0xff}},
		discoveryPattern,
		{ListID: wowListID, Pattern: dhcp, Mask: dhcpMask},
	}
}
