package main

import "fmt"

const (
	MsgNoLandmark = "No landmark found in this photo. Try framing the building so it fills more of the picture."

	MsgMultipleLandmarks = "Several landmarks found: %d. The first one is the most confident."

	MsgSingleLandmark = "Landmark found: %s."
)

func detectionMessage(count int, topLabel string) string {
	switch {
	case count == 0:
		return MsgNoLandmark
	case count == 1:
		return fmt.Sprintf(MsgSingleLandmark, topLabel)
	default:
		return fmt.Sprintf(MsgMultipleLandmarks, count)
	}
}
