package station

import (
	"fmt"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
)

// StopReason says why a transaction ends. Values outside the OCPP enumeration are sent as Other.
type StopReason string

const (
	ReasonDeAuthorized   StopReason = StopReason(core.ReasonDeAuthorized)
	ReasonEmergencyStop  StopReason = StopReason(core.ReasonEmergencyStop)
	ReasonEVDisconnected StopReason = StopReason(core.ReasonEVDisconnected)
	ReasonHardReset      StopReason = StopReason(core.ReasonHardReset)
	ReasonLocal          StopReason = StopReason(core.ReasonLocal)
	ReasonOther          StopReason = StopReason(core.ReasonOther)
	ReasonPowerLoss      StopReason = StopReason(core.ReasonPowerLoss)
	ReasonReboot         StopReason = StopReason(core.ReasonReboot)
	ReasonRemote         StopReason = StopReason(core.ReasonRemote)
	ReasonSoftReset      StopReason = StopReason(core.ReasonSoftReset)
	ReasonUnlockCommand  StopReason = StopReason(core.ReasonUnlockCommand)

	// ReasonSuspendedEVSE is used by the fault engine when the charger itself ends the session.
	ReasonSuspendedEVSE StopReason = "SuspendedEVSE"
)

// Wire maps the reason onto the StopTransaction enumeration.
func (r StopReason) Wire() core.Reason {
	switch r {
	case ReasonDeAuthorized, ReasonEmergencyStop, ReasonEVDisconnected, ReasonHardReset, ReasonLocal,
		ReasonOther, ReasonPowerLoss, ReasonReboot, ReasonRemote, ReasonSoftReset, ReasonUnlockCommand:
		return core.Reason(r)
	default:
		return core.ReasonOther
	}
}

// UserInitiated reports whether the driver ended the session. Those stops re-authorize the tag.
func (r StopReason) UserInitiated() bool {
	switch r {
	case ReasonLocal, ReasonEVDisconnected, ReasonUnlockCommand:
		return true
	default:
		return false
	}
}

// EmergencyStopInfo marks connectors faulted by the emergency stop input.
const EmergencyStopInfo = "EmergencyStop"

// StartCommand starts a transaction.
type StartCommand struct {
	ConnectorID int
	IdTag       string
}

func (StartCommand) Name() string { return "StartTransaction" }

// StopCommand stops the transaction on a connector. With TransactionID set it only applies to that
// transaction, so a stale stop never ends a newer session. A Fault code leaves the connector
// Faulted afterwards.
type StopCommand struct {
	ConnectorID   int
	TransactionID int
	Reason        StopReason
	Fault         core.ChargePointErrorCode
	Info          string
}

func (StopCommand) Name() string { return "StopTransaction" }

func (c StopCommand) String() string {
	return fmt.Sprintf("stop connector=%d tx=%d reason=%s fault=%s", c.ConnectorID, c.TransactionID, c.Reason, c.Fault)
}

// ResetCommand stops everything and asks the process to restart.
type ResetCommand struct {
	Type core.ResetType
}

func (ResetCommand) Name() string { return "Reset" }

// ClearCacheCommand empties the authorization cache and reloads configuration.
type ClearCacheCommand struct{}

func (ClearCacheCommand) Name() string { return "ClearCache" }

// TriggerCommand sends a message the central system asked for.
type TriggerCommand struct {
	Message     remotetrigger.MessageTrigger
	ConnectorID *int
}

func (TriggerCommand) Name() string { return "TriggerMessage" }

// ClearFaultCommand returns a connector faulted with Code to Available.
type ClearFaultCommand struct {
	ConnectorID int
	Code        core.ChargePointErrorCode
}

func (ClearFaultCommand) Name() string { return "ClearFault" }

// EmergencyStopCommand applies a press or release of the emergency stop input.
type EmergencyStopCommand struct {
	Pressed bool
}

func (EmergencyStopCommand) Name() string { return "EmergencyStop" }
