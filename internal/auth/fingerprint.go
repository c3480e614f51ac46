package auth

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
)

// DeviceFingerprint hashes (account, ip, user-agent) into a stable device
// identifier for trusted-device matching. Intentionally coarse: any change
// in IP or user-agent yields a different fingerprint and the device simply
// gets re-challenged.
func DeviceFingerprint(accountID uuid.UUID, ipAddress, userAgent string) string {
	data := []byte(fmt.Sprintf("%s|%s|%s", accountID, ipAddress, userAgent))
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)[:32]
}
