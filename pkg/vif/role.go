package vif

import (
	"fmt"

	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// Role is the operating mode of a virtual interface.
type Role uint8

const (
	RoleStation Role = iota
	RoleAP
	RoleAdHoc
	RoleP2PClient
	RoleP2PGO
	RoleP2PDevice
)

var roleNames = map[Role]string{
	RoleStation:   "STATION",
	RoleAP:        "AP",
	RoleAdHoc:     "ADHOC",
	RoleP2PClient: "P2P_CLIENT",
	RoleP2PGO:     "P2P_GO",
	RoleP2PDevice: "P2P_DEVICE",
}

// String returns the role name.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseRole parses a role name, case-sensitively, as printed by String.
// The short forms "sta", "ap", "adhoc", "p2p-client", "p2p-go" and
// "p2p-device" are accepted as well.
func ParseRole(s string) (Role, error) {
	switch s {
	case "sta", "station":
		return RoleStation, nil
	case "ap":
		return RoleAP, nil
	case "adhoc", "ibss":
		return RoleAdHoc, nil
	case "p2p-client":
		return RoleP2PClient, nil
	case "p2p-go":
		return RoleP2PGO, nil
	case "p2p-device":
		return RoleP2PDevice, nil
	}
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// IsP2P reports whether the role lives in the P2P index range.
func (r Role) IsP2P() bool {
	return r == RoleP2PClient || r == RoleP2PGO || r == RoleP2PDevice
}

// NetworkType returns the firmware network type for the role.
func (r Role) NetworkType() wire.NetworkType {
	switch r {
	case RoleAP, RoleP2PGO:
		return wire.NetworkAP
	case RoleAdHoc:
		return wire.NetworkAdHoc
	default:
		return wire.NetworkInfra
	}
}
