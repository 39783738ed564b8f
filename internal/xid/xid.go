package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// InvoiceNumber builds a client-side invoice number that doubles as the
// idempotency key of a sale. It stays unique across terminals because the
// device serial is part of it.
func InvoiceNumber(deviceSerial string, at time.Time) string {
	serial := strings.ToUpper(strings.TrimSpace(deviceSerial))
	if serial == "" {
		serial = "LOCAL"
	}
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("FAC-%s-%s-%s", serial, at.UTC().Format("20060102150405"), suffix)
}
