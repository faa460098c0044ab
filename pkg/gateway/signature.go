package gateway

import (
	"crypto/sha512"
	"encoding/hex"
)

// notificationSignature is SHA512(order_id + status_code + gross_amount + serverKey).
func notificationSignature(n Notification, serverKey string) string {
	sum := sha512.Sum512([]byte(n.OrderID + n.StatusCode + n.GrossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}
