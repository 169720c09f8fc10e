package sampling

import (
	"strconv"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"

	"chargepoint/internal/meter"
)

// DefaultMeasurands is reported when MeterValuesSampledData is not configured.
var DefaultMeasurands = []string{
	string(types.MeasurandEnergyActiveImportRegister),
	string(types.MeasurandVoltage),
	string(types.MeasurandCurrentImport),
	string(types.MeasurandPowerActiveImport),
}

// BuildMeterValue renders sample as one MeterValue with the requested measurands. Unsupported
// measurands are skipped.
func BuildMeterValue(s meter.Sample, measurands []string, readingContext types.ReadingContext, at time.Time) types.MeterValue {
	values := make([]types.SampledValue, 0, len(measurands))
	for _, m := range measurands {
		var (
			value string
			unit  types.UnitOfMeasure
		)
		switch types.Measurand(m) {
		case types.MeasurandEnergyActiveImportRegister:
			value, unit = strconv.FormatInt(int64(s.EnergyWh), 10), types.UnitOfMeasureWh
		case types.MeasurandVoltage:
			value, unit = formatFloat(s.Voltage), types.UnitOfMeasureV
		case types.MeasurandCurrentImport:
			value, unit = formatFloat(s.Current), types.UnitOfMeasureA
		case types.MeasurandPowerActiveImport:
			value, unit = formatFloat(s.Power), types.UnitOfMeasureW
		default:
			continue
		}
		values = append(values, types.SampledValue{
			Value:     value,
			Context:   readingContext,
			Format:    types.ValueFormatRaw,
			Measurand: types.Measurand(m),
			Location:  types.LocationOutlet,
			Unit:      unit,
		})
	}
	return types.MeterValue{Timestamp: types.NewDateTime(at), SampledValue: values}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
