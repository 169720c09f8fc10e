package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTriggerTargetsUseActionNames(t *testing.T) {
	assert.Equal(t, string(ActionBootNotification), string(TriggerBootNotification))
	assert.Equal(t, string(ActionHeartbeat), string(TriggerHeartbeat))
	assert.Equal(t, string(ActionMeterValues), string(TriggerMeterValues))
	assert.Equal(t, string(ActionStatusNotification), string(TriggerStatusNotification))
	assert.Equal(t, string(ActionFirmwareStatusNotification), string(TriggerFirmwareStatusNotification))
	assert.Equal(t, "DiagnosticsStatusNotification", string(TriggerDiagnosticsStatusNotification))
}
