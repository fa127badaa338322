package trb

import "fmt"

// Type is the block type discriminant (word 3, bits 10-15).
type Type uint8

// Transfer ring types.
const (
	TypeNormal      Type = 1
	TypeSetupStage  Type = 2
	TypeDataStage   Type = 3
	TypeStatusStage Type = 4
	TypeIsoch       Type = 5
	TypeLink        Type = 6
	TypeEventData   Type = 7
	TypeNoOp        Type = 8
)

// Command ring types.
const (
	TypeEnableSlot          Type = 9
	TypeDisableSlot         Type = 10
	TypeAddressDevice       Type = 11
	TypeConfigureEndpoint   Type = 12
	TypeEvaluateContext     Type = 13
	TypeResetEndpoint       Type = 14
	TypeStopEndpoint        Type = 15
	TypeSetTRDequeuePointer Type = 16
	TypeResetDevice         Type = 17
	TypeForceEvent          Type = 18
	TypeNegotiateBandwidth  Type = 19
	TypeSetLatencyTolerance Type = 20
	TypeGetPortBandwidth    Type = 21
	TypeForceHeader         Type = 22
	TypeNoOpCommand         Type = 23
)

// Event ring types.
const (
	TypeTransferEvent       Type = 32
	TypeCommandCompletion   Type = 33
	TypePortStatusChange    Type = 34
	TypeBandwidthRequest    Type = 35
	TypeDoorbellEvent       Type = 36
	TypeHostControllerEvent Type = 37
	TypeDeviceNotification  Type = 38
	TypeMFIndexWrap         Type = 39
)

var typeNames = map[Type]string{
	TypeNormal:              "Normal",
	TypeSetupStage:          "Setup Stage",
	TypeDataStage:           "Data Stage",
	TypeStatusStage:         "Status Stage",
	TypeIsoch:               "Isoch",
	TypeLink:                "Link",
	TypeEventData:           "Event Data",
	TypeNoOp:                "No Op",
	TypeEnableSlot:          "Enable Slot",
	TypeDisableSlot:         "Disable Slot",
	TypeAddressDevice:       "Address Device",
	TypeConfigureEndpoint:   "Configure Endpoint",
	TypeEvaluateContext:     "Evaluate Context",
	TypeResetEndpoint:       "Reset Endpoint",
	TypeStopEndpoint:        "Stop Endpoint",
	TypeSetTRDequeuePointer: "Set TR Dequeue Pointer",
	TypeResetDevice:         "Reset Device",
	TypeForceEvent:          "Force Event",
	TypeNegotiateBandwidth:  "Negotiate Bandwidth",
	TypeSetLatencyTolerance: "Set Latency Tolerance",
	TypeGetPortBandwidth:    "Get Port Bandwidth",
	TypeForceHeader:         "Force Header",
	TypeNoOpCommand:         "No Op Command",
	TypeTransferEvent:       "Transfer Event",
	TypeCommandCompletion:   "Command Completion",
	TypePortStatusChange:    "Port Status Change",
	TypeBandwidthRequest:    "Bandwidth Request",
	TypeDoorbellEvent:       "Doorbell Event",
	TypeHostControllerEvent: "Host Controller Event",
	TypeDeviceNotification:  "Device Notification",
	TypeMFIndexWrap:         "MFINDEX Wrap",
}

// String returns the xHCI name of the type.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}
