package utils

import (
	"github.com/google/uuid"
)

// GenerateID generates a random run or client identifier
func GenerateID() string {
	return uuid.NewString()
}

// ShortID trims an identifier for log output
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
