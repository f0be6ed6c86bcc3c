package wire

import (
	"fmt"
	"strings"
)

// Opcode identifies a firmware command.
type Opcode uint16

// Interface lifecycle.
const (
	OpCreateInterface Opcode = 0x0001
	OpDeleteInterface Opcode = 0x0002
)

// Association.
const (
	OpConnect    Opcode = 0x0010
	OpReconnect  Opcode = 0x0011
	OpDisconnect Opcode = 0x0012
	OpAddKey     Opcode = 0x0013
	OpDeleteKey  Opcode = 0x0014
	OpStartAP    Opcode = 0x0015
	OpStopAP     Opcode = 0x0016
)

// Station tuning.
const (
	OpSetListenInterval Opcode = 0x0020
	OpSetBmissTime      Opcode = 0x0021
	OpSetBmissEnhance   Opcode = 0x0022
	OpSetScanParams     Opcode = 0x0023
	OpSetPowerMode      Opcode = 0x0024
)

// Scanning.
const (
	OpStartScan       Opcode = 0x0030
	OpAbortScan       Opcode = 0x0031
	OpSetProbedSSID   Opcode = 0x0032
	OpSetSchedScan    Opcode = 0x0033
	OpEnableSchedScan Opcode = 0x0034
	OpSetRSSIFilter   Opcode = 0x0035
)

// Wake-on-wireless and host sleep.
const (
	OpSetMcastFilter   Opcode = 0x0040
	OpClearWowPatterns Opcode = 0x0041
	OpAddWowPattern    Opcode = 0x0042
	OpSetWowMode       Opcode = 0x0043
	OpSetHostSleepMode Opcode = 0x0044
	OpGetWakeReason    Opcode = 0x0045
)

// Off-channel operation.
const (
	OpRemainOnChannel       Opcode = 0x0050
	OpCancelRemainOnChannel Opcode = 0x0051
	OpSendAction            Opcode = 0x0052
)

var opcodeNames = map[Opcode]string{
	OpCreateInterface:       "CREATE_INTERFACE",
	OpDeleteInterface:       "DELETE_INTERFACE",
	OpConnect:               "CONNECT",
	OpReconnect:             "RECONNECT",
	OpDisconnect:            "DISCONNECT",
	OpAddKey:                "ADD_KEY",
	OpDeleteKey:             "DELETE_KEY",
	OpStartAP:               "START_AP",
	OpStopAP:                "STOP_AP",
	OpSetListenInterval:     "SET_LISTEN_INTERVAL",
	OpSetBmissTime:          "SET_BMISS_TIME",
	OpSetBmissEnhance:       "SET_BMISS_ENHANCE",
	OpSetScanParams:         "SET_SCAN_PARAMS",
	OpSetPowerMode:          "SET_POWER_MODE",
	OpStartScan:             "START_SCAN",
	OpAbortScan:             "ABORT_SCAN",
	OpSetProbedSSID:         "SET_PROBED_SSID",
	OpSetSchedScan:          "SET_SCHED_SCAN",
	OpEnableSchedScan:       "ENABLE_SCHED_SCAN",
	OpSetRSSIFilter:         "SET_RSSI_FILTER",
	OpSetMcastFilter:        "SET_MCAST_FILTER",
	OpClearWowPatterns:      "CLEAR_WOW_PATTERNS",
	OpAddWowPattern:         "ADD_WOW_PATTERN",
	OpSetWowMode:            "SET_WOW_MODE",
	OpSetHostSleepMode:      "SET_HOST_SLEEP_MODE",
	OpGetWakeReason:         "GET_WAKE_REASON",
	OpRemainOnChannel:       "REMAIN_ON_CHANNEL",
	OpCancelRemainOnChannel: "CANCEL_REMAIN_ON_CHANNEL",
	OpSendAction:            "SEND_ACTION",
}

// String returns the opcode name.
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsValid returns true if the opcode is known.
func (o Opcode) IsValid() bool {
	_, ok := opcodeNames[o]
	return ok
}

// ParseOpcode looks up an opcode by name, as printed by String. Case and
// the choice of '-' or '_' do not matter.
func ParseOpcode(name string) (Opcode, error) {
	key := normalizeName(name)
	for op, n := range opcodeNames {
		if n == key {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown opcode %q", name)
}

func normalizeName(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_")
}

// EventCode identifies an asynchronous firmware event.
type EventCode uint16

const (
	EvReady                 EventCode = 0x1001
	EvInterfaceReady        EventCode = 0x1002
	EvConnect               EventCode = 0x1010
	EvDisconnect            EventCode = 0x1011
	EvRoam                  EventCode = 0x1012
	EvAPStarted             EventCode = 0x1013
	EvScanResult            EventCode = 0x1020
	EvScanComplete          EventCode = 0x1021
	EvHostSleepProcessed    EventCode = 0x1030
	EvRemainOnChannel       EventCode = 0x1040
	EvCancelRemainOnChannel EventCode = 0x1041
	EvActionTxStatus        EventCode = 0x1042
)

var eventNames = map[EventCode]string{
	EvReady:                 "READY",
	EvInterfaceReady:        "INTERFACE_READY",
	EvConnect:               "CONNECT",
	EvDisconnect:            "DISCONNECT",
	EvRoam:                  "ROAM",
	EvAPStarted:             "AP_STARTED",
	EvScanResult:            "SCAN_RESULT",
	EvScanComplete:          "SCAN_COMPLETE",
	EvHostSleepProcessed:    "HOST_SLEEP_PROCESSED",
	EvRemainOnChannel:       "REMAIN_ON_CHANNEL",
	EvCancelRemainOnChannel: "CANCEL_REMAIN_ON_CHANNEL",
	EvActionTxStatus:        "ACTION_TX_STATUS",
}

// String returns the event code name.
func (e EventCode) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsValid returns true if the event code is known.
func (e EventCode) IsValid() bool {
	_, ok := eventNames[e]
	return ok
}

// ParseEventCode looks up an event code by name, as printed by String.
func ParseEventCode(name string) (EventCode, error) {
	key := normalizeName(name)
	for code, n := range eventNames {
		if n == key {
			return code, nil
		}
	}
	return 0, fmt.Errorf("unknown event %q", name)
}
