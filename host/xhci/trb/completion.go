package trb

import (
	"fmt"

	"github.com/ardnew/softxhci/pkg"
)

// CompletionCode is the status posted by the controller in event blocks.
type CompletionCode uint8

// Completion codes (xHCI 1.2 table 6-90).
const (
	CodeInvalid                 CompletionCode = 0
	CodeSuccess                 CompletionCode = 1
	CodeDataBufferError         CompletionCode = 2
	CodeBabbleDetected          CompletionCode = 3
	CodeUSBTransactionError     CompletionCode = 4
	CodeTRBError                CompletionCode = 5
	CodeStallError              CompletionCode = 6
	CodeResourceError           CompletionCode = 7
	CodeBandwidthError          CompletionCode = 8
	CodeNoSlotsAvailable        CompletionCode = 9
	CodeInvalidStreamType       CompletionCode = 10
	CodeSlotNotEnabled          CompletionCode = 11
	CodeEndpointNotEnabled      CompletionCode = 12
	CodeShortPacket             CompletionCode = 13
	CodeRingUnderrun            CompletionCode = 14
	CodeRingOverrun             CompletionCode = 15
	CodeVFEventRingFull         CompletionCode = 16
	CodeParameterError          CompletionCode = 17
	CodeBandwidthOverrun        CompletionCode = 18
	CodeContextStateError       CompletionCode = 19
	CodeNoPingResponse          CompletionCode = 20
	CodeEventRingFull           CompletionCode = 21
	CodeIncompatibleDevice      CompletionCode = 22
	CodeMissedService           CompletionCode = 23
	CodeCommandRingStopped      CompletionCode = 24
	CodeCommandAborted          CompletionCode = 25
	CodeStopped                 CompletionCode = 26
	CodeStoppedLengthInvalid    CompletionCode = 27
	CodeStoppedShortPacket      CompletionCode = 28
	CodeMaxExitLatencyTooLarge  CompletionCode = 29
	CodeIsochBufferOverrun      CompletionCode = 31
	CodeEventLost               CompletionCode = 32
	CodeUndefinedError          CompletionCode = 33
	CodeInvalidStreamID         CompletionCode = 34
	CodeSecondaryBandwidthError CompletionCode = 35
	CodeSplitTransactionError   CompletionCode = 36
)

var codeNames = map[CompletionCode]string{
	CodeInvalid:                 "invalid",
	CodeSuccess:                 "success",
	CodeDataBufferError:         "data buffer error",
	CodeBabbleDetected:          "babble detected",
	CodeUSBTransactionError:     "USB transaction error",
	CodeTRBError:                "TRB error",
	CodeStallError:              "stall error",
	CodeResourceError:           "resource error",
	CodeBandwidthError:          "bandwidth error",
	CodeNoSlotsAvailable:        "no slots available",
	CodeInvalidStreamType:       "invalid stream type",
	CodeSlotNotEnabled:          "slot not enabled",
	CodeEndpointNotEnabled:      "endpoint not enabled",
	CodeShortPacket:             "short packet",
	CodeRingUnderrun:            "ring underrun",
	CodeRingOverrun:             "ring overrun",
	CodeVFEventRingFull:         "VF event ring full",
	CodeParameterError:          "parameter error",
	CodeBandwidthOverrun:        "bandwidth overrun",
	CodeContextStateError:       "context state error",
	CodeNoPingResponse:          "no ping response",
	CodeEventRingFull:           "event ring full",
	CodeIncompatibleDevice:      "incompatible device",
	CodeMissedService:           "missed service",
	CodeCommandRingStopped:      "command ring stopped",
	CodeCommandAborted:          "command aborted",
	CodeStopped:                 "stopped",
	CodeStoppedLengthInvalid:    "stopped, length invalid",
	CodeStoppedShortPacket:      "stopped, short packet",
	CodeMaxExitLatencyTooLarge:  "max exit latency too large",
	CodeIsochBufferOverrun:      "isoch buffer overrun",
	CodeEventLost:               "event lost",
	CodeUndefinedError:          "undefined error",
	CodeInvalidStreamID:         "invalid stream ID",
	CodeSecondaryBandwidthError: "secondary bandwidth error",
	CodeSplitTransactionError:   "split transaction error",
}

// String returns a human-readable completion code.
func (c CompletionCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("completion code %d", uint8(c))
}

// Err returns the error corresponding to the code, or nil for success.
// The returned error wraps one of the pkg sentinel errors.
func (c CompletionCode) Err() error {
	var sentinel error
	switch c {
	case CodeSuccess:
		return nil
	case CodeStallError:
		sentinel = pkg.ErrStall
	case CodeShortPacket:
		sentinel = pkg.ErrShortPacket
	case CodeDataBufferError:
		sentinel = pkg.ErrDataBuffer
	case CodeUSBTransactionError, CodeSplitTransactionError:
		sentinel = pkg.ErrTransaction
	case CodeBabbleDetected, CodeRingOverrun, CodeIsochBufferOverrun:
		sentinel = pkg.ErrOverrun
	case CodeRingUnderrun:
		sentinel = pkg.ErrUnderrun
	case CodeBandwidthError, CodeBandwidthOverrun, CodeSecondaryBandwidthError:
		sentinel = pkg.ErrBandwidth
	case CodeResourceError, CodeNoSlotsAvailable:
		sentinel = pkg.ErrNoResources
	case CodeSlotNotEnabled, CodeEndpointNotEnabled, CodeContextStateError:
		sentinel = pkg.ErrInvalidState
	case CodeTRBError, CodeParameterError, CodeMaxExitLatencyTooLarge:
		sentinel = pkg.ErrInvalidParameter
	case CodeInvalidStreamType, CodeInvalidStreamID, CodeIncompatibleDevice:
		sentinel = pkg.ErrNotSupported
	case CodeCommandRingStopped, CodeCommandAborted, CodeStopped,
		CodeStoppedLengthInvalid, CodeStoppedShortPacket:
		sentinel = pkg.ErrCancelled
	case CodeMissedService:
		sentinel = pkg.ErrFrameOverrun
	case CodeEventRingFull, CodeVFEventRingFull, CodeEventLost:
		sentinel = pkg.ErrBusy
	case CodeNoPingResponse:
		sentinel = pkg.ErrNoDevice
	default:
		sentinel = pkg.ErrProtocol
	}
	return fmt.Errorf("%w: %v", sentinel, c)
}
