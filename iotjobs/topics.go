package iotjobs

import (
	"errors"

	"github.com/ggoodman/iot-device-sdk-go/internal/service"
)

var errMissingStatus = errors.New("missing job execution status")

func thingTopic(thingName, suffix string) (string, error) {
	if err := service.Segment("thing name", thingName); err != nil {
		return "", err
	}
	return "$aws/things/" + thingName + "/jobs/" + suffix, nil
}

func jobTopic(thingName, jobID, suffix string) (string, error) {
	if err := service.Segment("job id", jobID); err != nil {
		return "", err
	}
	return thingTopic(thingName, jobID+"/"+suffix)
}
