package config

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"syscall"
)

// ErrNotFound is returned when a requested resource does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert or update violates a uniqueness constraint.
var ErrConflict = errors.New("conflict")

// uniqueViolations are the driver messages for unique constraint failures
// across sqlite, postgres and mysql.
var uniqueViolations = []string{
	"UNIQUE constraint failed",
	"duplicate key value",
	"Duplicate entry",
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	for _, m := range uniqueViolations {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// connectivityMarkers are substrings that identify a store that cannot be
// reached rather than a query that failed.
var connectivityMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"server closed",
	"bad connection",
	"database is closed",
	"connect: network is unreachable",
	"too many connections",
	"the database system is starting up",
	"the database system is shutting down",
}

// IsConnectivityError reports whether err means the backing store could not
// be reached. Redis errors are recognised by the same markers.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range connectivityMarkers {
		if strings.Contains(msg, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
