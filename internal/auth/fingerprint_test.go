package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDeviceFingerprint(t *testing.T) {
	accountID := uuid.New()

	fp := DeviceFingerprint(accountID, "203.0.113.7", "test-agent")
	assert.Len(t, fp, 32)

	// stable for identical inputs
	assert.Equal(t, fp, DeviceFingerprint(accountID, "203.0.113.7", "test-agent"))

	// any input change yields a different fingerprint
	assert.NotEqual(t, fp, DeviceFingerprint(uuid.New(), "203.0.113.7", "test-agent"))
	assert.NotEqual(t, fp, DeviceFingerprint(accountID, "203.0.113.8", "test-agent"))
	assert.NotEqual(t, fp, DeviceFingerprint(accountID, "203.0.113.7", "other-agent"))
}
