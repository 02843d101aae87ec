package common

import (
	"os"
)

const defaultServiceName = "flowdesk"

func GetServiceName() string {
	if name := os.Getenv("SERVICE_NAME"); name != "" {
		return name
	}
	return defaultServiceName
}

func GetServiceInstance() string {
	if instance := os.Getenv("SERVICE_INSTANCE"); instance != "" {
		return instance
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
