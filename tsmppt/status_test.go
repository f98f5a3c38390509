package tsmppt

import (
	"context"
	"errors"
	"testing"

	"github.com/cepro/chargecontroller/modbusaccess"
	"github.com/cepro/chargecontroller/registers"
	"github.com/cepro/chargecontroller/scaling"
	"github.com/cepro/chargecontroller/telemetry"
	"github.com/cepro/chargecontroller/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fetcherFunc serves canned responses regardless of the transport.
type fetcherFunc func(ctx context.Context, address uint16, wordCount uint8) (string, error)

func (f fetcherFunc) Fetch(ctx context.Context, address uint16, wordCount uint8) (string, error) {
	return f(ctx, address, wordCount)
}

// scenarioDevice holds the worked examples of the register documentation.
func scenarioDevice() *transport.Mock {
	return transport.NewMock(map[uint16]uint16{
		0x0000: 180,
		0x0001: 0,
		0x0002: 80,
		0x0003: 0,
		0x0004: 0x0102,
		0x001B: 0x11A0,
		0x001D: 0xFFA8,
		0x0023: 0xFFFB, // -5 degrees
		0x0025: 12,
		0x0026: 0x11A0,
		0x0027: 0xFFA8,
		0x0031: 11,
		0x0032: 0,
		0x0033: 0,
		0x0034: 2,
		0x0035: 59270,
		0x0038: 1234,
		0x003A: 1000,
		0x003C: 1000,
		0x003D: 0x11A0,
		0x003E: 0x11A0,
	})
}

func TestNewSystemStatus(t *testing.T) {

	tests := []struct {
		name             string
		opts             []Option
		expectedRequests []transport.Request
	}{
		{
			name: "Combined calibration reads",
			expectedRequests: []transport.Request{
				{Address: 0x0000, WordCount: 2},
				{Address: 0x0002, WordCount: 2},
			},
		},
		{
			name: "Split calibration reads",
			opts: []Option{WithSplitCalibrationReads()},
			expectedRequests: []transport.Request{
				{Address: 0x0000, WordCount: 1},
				{Address: 0x0001, WordCount: 1},
				{Address: 0x0002, WordCount: 1},
				{Address: 0x0003, WordCount: 1},
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			device := scenarioDevice()
			device.Set(registers.CurrentScalingLow, 32768)

			status, err := NewSystemStatus(context.Background(), device, test.opts...)
			require.NoError(t, err)

			assert.Equal(t, scaling.Scalers{Voltage: 180.0, Current: 80.5}, status.Scalers())
			assert.Equal(t, test.expectedRequests, device.Requests())
		})
	}
}

func TestNewSystemStatusCalibrationFailure(t *testing.T) {

	for _, addr := range []uint16{0x0000, 0x0001, 0x0002, 0x0003} {
		device := scenarioDevice()
		cause := errors.New("connection reset")
		device.Fail(addr, cause)

		status, err := NewSystemStatus(context.Background(), device)
		assert.Nil(t, status)
		assert.ErrorIs(t, err, cause)

		var transportErr *transport.Error
		assert.ErrorAs(t, err, &transportErr)
	}

	_, err := NewSystemStatus(context.Background(), fetcherFunc(func(ctx context.Context, address uint16, wordCount uint8) (string, error) {
		return "1,4,2,0,180", nil // one word where two were asked for
	}))
	var formatErr *modbusaccess.FrameFormatError
	assert.ErrorAs(t, err, &formatErr)
}

func TestGetScenarios(t *testing.T) {
	status, err := NewSystemStatus(context.Background(), scenarioDevice())
	require.NoError(t, err)

	result, err := status.Get(context.Background(), true)
	require.NoError(t, err)

	tests := []struct {
		label    string
		expected telemetry.StatusRecord
	}{
		{
			label:    "Battery Voltage",
			expected: telemetry.StatusRecord{Group: "Battery", Label: "Battery Voltage", Value: 24.79, Unit: scaling.Volt},
		},
		{
			label:    "Charge Current",
			expected: telemetry.StatusRecord{Group: "Battery", Label: "Charge Current", Value: -0.21, Unit: scaling.Amp},
		},
		{
			label:    "Target Voltage",
			expected: telemetry.StatusRecord{Group: "Battery", Label: "Target Voltage", Value: 0.0, Unit: scaling.Volt},
		},
		{
			label:    "Amp Hours",
			expected: telemetry.StatusRecord{Group: "Counter", Label: "Amp Hours", Value: 19034.2, Unit: scaling.AmpHour},
		},
		{
			label:    "Kilowatt Hours",
			expected: telemetry.StatusRecord{Group: "Counter", Label: "Kilowatt Hours", Value: 1234, Unit: scaling.KilowattHour},
		},
		{
			label:    "Heat Sink Temperature",
			expected: telemetry.StatusRecord{Group: "Temperature", Label: "Heat Sink Temperature", Value: -5, Unit: scaling.Celsius},
		},
		{
			label:    "LED State",
			expected: telemetry.StatusRecord{Group: "Condition", Label: "LED State", Value: 11, Unit: scaling.Raw},
		},
	}
	for _, test := range tests {
		t.Run(test.label, func(t *testing.T) {
			record, ok := result[test.label]
			require.True(t, ok)
			assert.Equal(t, test.expected, record.Rounded(2))
		})
	}

	assert.Len(t, result, 10)
	assert.NotContains(t, result, "Output Power")
	assert.NotContains(t, result, "Battery Temperature")
}

func TestGetFull(t *testing.T) {
	status, err := NewSystemStatus(context.Background(), scenarioDevice())
	require.NoError(t, err)

	result, err := status.Get(context.Background(), false)
	require.NoError(t, err)

	assert.Len(t, result, 15)
	assert.InDelta(t, 109.86, result["Output Power"].Value, 0.005)
	assert.Equal(t, scaling.Watt, result["Sweep Pmax"].Unit)
	assert.Equal(t, "Array", result["Sweep Pmax"].Group)
	assert.Equal(t, 12.0, result["Battery Temperature"].Value)
}

func TestPollGroupFailure(t *testing.T) {
	device := scenarioDevice()
	status, err := NewSystemStatus(context.Background(), device)
	require.NoError(t, err)

	cause := errors.New("i/o timeout")
	device.Fail(0x001D, cause) // Array Current

	result, err := status.Get(context.Background(), false)

	var pollErr *PollError
	require.ErrorAs(t, err, &pollErr)
	assert.Equal(t, []string{registers.GroupArray}, pollErr.Failed())
	assert.Equal(t, "Array Current", pollErr.Groups[0].Metric.Label)
	assert.ErrorIs(t, err, cause)

	var transportErr *transport.Error
	assert.ErrorAs(t, err, &transportErr)

	// the array group contributes nothing, not even the metric read before the failure
	for _, label := range []string{"Array Voltage", "Array Current", "Sweep Vmp", "Sweep Voc", "Sweep Pmax"} {
		assert.NotContains(t, result, label)
	}

	// later groups are still polled
	assert.Contains(t, result, "Battery Voltage")
	assert.Contains(t, result, "Heat Sink Temperature")
	assert.Contains(t, result, "Amp Hours")
	assert.Contains(t, result, "Charge State")
	assert.Len(t, result, 10)

	// the rest of the array group is not read after the failure
	for _, req := range device.Requests() {
		assert.NotEqual(t, uint16(0x003D), req.Address)
	}
}

func TestPollMultipleGroupFailures(t *testing.T) {
	device := scenarioDevice()
	status, err := NewSystemStatus(context.Background(), device)
	require.NoError(t, err)

	device.Fail(0x0026, errors.New("timeout"))
	device.Fail(0x0031, errors.New("timeout"))

	result, err := status.Get(context.Background(), true)

	var pollErr *PollError
	require.ErrorAs(t, err, &pollErr)
	assert.Equal(t, []string{registers.GroupBattery, registers.GroupCondition}, pollErr.Failed())
	assert.Len(t, pollErr.Unwrap(), 2)
	assert.Len(t, result, 5)
}

func TestPollMalformedFrames(t *testing.T) {

	tests := []struct {
		name     string
		response string
	}{
		{name: "Wrong width", response: "1,4,4,0,1,0,2"},
		{name: "Odd byte count", response: "1,4,3,0,1,0"},
		{name: "Non numeric", response: "1,4,2,0,x"},
		{name: "Too few tokens", response: "1,4,2,0"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			device := scenarioDevice()
			status, err := NewSystemStatus(context.Background(), device)
			require.NoError(t, err)

			status.fetcher = fetcherFunc(func(ctx context.Context, address uint16, wordCount uint8) (string, error) {
				if address == 0x0023 {
					return test.response, nil
				}
				return device.Fetch(ctx, address, wordCount)
			})

			result, err := status.Get(context.Background(), true)

			var formatErr *modbusaccess.FrameFormatError
			require.ErrorAs(t, err, &formatErr)
			assert.NotContains(t, result, "Heat Sink Temperature")
			assert.Len(t, result, 9)
		})
	}
}

func TestCalibrationReadOnce(t *testing.T) {
	device := scenarioDevice()
	status, err := NewSystemStatus(context.Background(), device)
	require.NoError(t, err)

	first, err := status.Get(context.Background(), false)
	require.NoError(t, err)

	// recalibrating the device mid session has no effect
	device.Set(registers.VoltageScalingHigh, 90)

	second, err := status.Get(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	calibrationReads := 0
	for _, req := range device.Requests() {
		if req.Address <= registers.CurrentScalingLow {
			calibrationReads++
		}
	}
	assert.Equal(t, 2, calibrationReads)
}

func TestPollGroup(t *testing.T) {
	device := scenarioDevice()
	status, err := NewSystemStatus(context.Background(), device)
	require.NoError(t, err)

	group, err := registers.Group(registers.GroupArray)
	require.NoError(t, err)

	records, err := status.PollGroup(context.Background(), group, false)
	require.NoError(t, err)

	labels := make([]string, len(records))
	for i, record := range records {
		labels[i] = record.Label
	}
	assert.Equal(t, []string{"Array Voltage", "Array Current", "Sweep Vmp", "Sweep Voc", "Sweep Pmax"}, labels)

	device.Fail(0x003E, errors.New("timeout"))
	records, err = status.PollGroup(context.Background(), group, false)
	assert.Nil(t, records)

	var groupErr *GroupError
	require.ErrorAs(t, err, &groupErr)
	assert.Equal(t, registers.GroupArray, groupErr.Group)
	assert.Equal(t, "Sweep Voc", groupErr.Metric.Label)

	// limited mode never touches the failing optional register
	records, err = status.PollGroup(context.Background(), group, true)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestGroupsRestartable(t *testing.T) {
	status, err := NewSystemStatus(context.Background(), scenarioDevice())
	require.NoError(t, err)

	first := status.Groups()
	first[0].Metrics[0].Label = "changed"

	second := status.Groups()
	require.Len(t, second, 5)
	assert.Equal(t, "Battery Voltage", second[0].Metrics[0].Label)
}

func TestSoftwareVersion(t *testing.T) {
	device := scenarioDevice()
	status, err := NewSystemStatus(context.Background(), device)
	require.NoError(t, err)

	version, err := status.SoftwareVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), version)

	device.Fail(registers.SoftwareVersion.Address, errors.New("timeout"))
	_, err = status.SoftwareVersion(context.Background())
	assert.Error(t, err)
}
