package iotshadow

import "github.com/ggoodman/iot-device-sdk-go/internal/service"

const (
	opGet    = "get"
	opUpdate = "update"
	opDelete = "delete"

	eventDelta     = "update/delta"
	eventDocuments = "update/documents"
)

func thingPrefix(thingName string) (string, error) {
	if err := service.Segment("thing name", thingName); err != nil {
		return "", err
	}
	return "$aws/things/" + thingName + "/shadow", nil
}

func classicTopic(thingName, op string) (string, error) {
	p, err := thingPrefix(thingName)
	if err != nil {
		return "", err
	}
	return p + "/" + op, nil
}

func namedTopic(thingName, shadowName, op string) (string, error) {
	p, err := thingPrefix(thingName)
	if err != nil {
		return "", err
	}
	if err := service.Segment("shadow name", shadowName); err != nil {
		return "", err
	}
	return p + "/name/" + shadowName + "/" + op, nil
}

func eventTopic(thingName, shadowName, event string) (string, error) {
	if shadowName == "" {
		return classicTopic(thingName, event)
	}
	return namedTopic(thingName, shadowName, event)
}
