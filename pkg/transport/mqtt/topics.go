package mqtt

import (
	"fmt"
	"strings"
)

// Topic layout, all under a configurable root:
//
//	{root}/player/{key}/request/{correlationId}
//	{root}/player/{key}/response/{correlationId}
//	{root}/player/{key}/view
//	{root}/player/{key}/status
//
// The device key segment is authenticated by the broker ACL (mTLS username
// must match), so handlers trust the topic over any payload field.

func RequestsFilter(root string) string {
	return fmt.Sprintf("%s/player/+/request/+", root)
}

func ViewsFilter(root string) string {
	return fmt.Sprintf("%s/player/+/view", root)
}

func StatusFilter(root string) string {
	return fmt.Sprintf("%s/player/+/status", root)
}

func ResponseTopic(root, deviceKey, correlationID string) string {
	return fmt.Sprintf("%s/player/%s/response/%s", root, deviceKey, correlationID)
}

// ParseRequestTopic extracts the device key and correlation id from a
// request topic. Returns an error for anything not shaped like one.
func ParseRequestTopic(root, topic string) (deviceKey string, correlationID string, err error) {
	segments, err := deviceSegments(root, topic)
	if err != nil {
		return "", "", err
	}
	if len(segments) != 3 || segments[1] != "request" {
		return "", "", fmt.Errorf("not a request topic: %s", topic)
	}
	return segments[0], segments[2], nil
}

// ParseDeviceTopic extracts the device key from a single-leaf device topic
// such as view or status.
func ParseDeviceTopic(root, topic, leaf string) (string, error) {
	segments, err := deviceSegments(root, topic)
	if err != nil {
		return "", err
	}
	if len(segments) != 2 || segments[1] != leaf {
		return "", fmt.Errorf("not a %s topic: %s", leaf, topic)
	}
	return segments[0], nil
}

func deviceSegments(root, topic string) ([]string, error) {
	prefix := root + "/player/"
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok {
		return nil, fmt.Errorf("topic outside %splayer namespace: %s", root+"/", topic)
	}

	segments := strings.Split(rest, "/")
	if len(segments) < 2 || segments[0] == "" {
		return nil, fmt.Errorf("malformed device topic: %s", topic)
	}
	return segments, nil
}
