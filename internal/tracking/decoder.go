package tracking

import (
	"encoding/json"
	"fmt"

	"github.com/retinalab/gazecap/internal/gaze"
)

// RawDecoder converts an inbound wire message into zero or more raw gaze
// samples. Returning (nil, nil) skips the message (control traffic, acks).
type RawDecoder func(data []byte) ([]gaze.RawSample, error)

// trackerAck is the control acknowledgement some tracker servers send in
// response to start/stop messages. It carries no sample data.
type trackerAck struct {
	Status string `json:"status"`
	Type   string `json:"type"`
}

// DecodeTrackerSample is the default RawDecoder. It understands the tracker
// server's JSON sample format (normalized device coordinates plus per-eye
// position and pupil data) and silently drops status acknowledgements.
func DecodeTrackerSample(data []byte) ([]gaze.RawSample, error) {
	var ack trackerAck
	if err := json.Unmarshal(data, &ack); err == nil && ack.Status != "" && ack.Type == "" {
		return nil, nil
	}

	var raw gaze.RawSample
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode tracker sample: %w", err)
	}
	if raw.ScreenX == 0 && raw.ScreenY == 0 &&
		raw.DeviceTimestamp == nil && raw.SystemTimestamp == nil &&
		raw.Confidence == nil && raw.LeftEye == nil && raw.RightEye == nil {
		// Not a sample shape we recognize; treat as control noise rather
		// than poisoning the stream with zero-points. A scored or per-eye
		// record at the exact origin is still a sample.
		return nil, nil
	}
	return []gaze.RawSample{raw}, nil
}

// DecodeTrackerBatch handles servers that deliver samples as a JSON array.
// Falls back to single-sample decoding for scalar messages.
func DecodeTrackerBatch(data []byte) ([]gaze.RawSample, error) {
	if len(data) > 0 && data[0] == '[' {
		var batch []gaze.RawSample
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("decode tracker batch: %w", err)
		}
		return batch, nil
	}
	return DecodeTrackerSample(data)
}
