package xid

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInvoiceNumberIsUniquePerCall(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := InvoiceNumber("sn-01", at)
	b := InvoiceNumber("sn-01", at)

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "FAC-SN-01-20260301100000-"), a)
}

func TestInvoiceNumberWithoutSerial(t *testing.T) {
	got := InvoiceNumber("  ", time.Now())
	assert.Contains(t, got, "FAC-LOCAL-")
}

func TestNewKeepsPrefix(t *testing.T) {
	assert.True(t, strings.HasPrefix(New("sync"), "sync-"))
}
