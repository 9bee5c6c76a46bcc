package radio

import "math"

// QualityFromRSSI maps dBm onto a 0-100 link quality scale.
func QualityFromRSSI(rssi float64) float64 {
	switch {
	case rssi <= -100:
		return 0
	case rssi >= -50:
		return 100
	default:
		return 2 * (rssi + 100)
	}
}

// RSSIFromQuality is the inverse of QualityFromRSSI, used when the platform
// only reports a percentage.
func RSSIFromQuality(quality float64) float64 {
	switch {
	case quality <= 0:
		return -100
	case quality >= 100:
		return -50
	default:
		return math.Trunc(quality/2 - 100)
	}
}

// FrequencyFromChannel returns the centre frequency in GHz, or 0 for channels
// outside the 2.4 and 5 GHz bands.
func FrequencyFromChannel(channel int) float64 {
	switch {
	case channel == 14:
		return 2.484
	case channel >= 1 && channel <= 13:
		return 2.407 + float64(channel)*0.005
	case channel >= 36 && channel <= 165:
		return 5.000 + float64(channel)*0.005
	default:
		return 0
	}
}

// ChannelFromFrequency returns the channel for a frequency in GHz, or 0 when
// the frequency is outside the 2.4 and 5 GHz bands.
func ChannelFromFrequency(ghz float64) int {
	switch {
	case ghz >= 2.4 && ghz <= 2.5:
		if math.Abs(ghz-2.484) < 0.001 {
			return 14
		}
		return int(math.Round((ghz - 2.407) / 0.005))
	case ghz >= 5.0 && ghz <= 5.9:
		return int(math.Round((ghz - 5.000) / 0.005))
	default:
		return 0
	}
}
