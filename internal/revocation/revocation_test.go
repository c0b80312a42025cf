package revocation

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestRevokeThenIsRevoked(t *testing.T) {
	s := New("", testLogger())
	assert.False(t, s.IsRevoked("jti-1"))
	s.Revoke("jti-1", time.Minute)
	assert.True(t, s.IsRevoked("jti-1"))
}

func TestExpiredRevocationLapses(t *testing.T) {
	s := New("", testLogger())
	s.Revoke("jti-2", time.Nanosecond)
	time.Sleep(time.Millisecond)
	assert.False(t, s.IsRevoked("jti-2"))
}

func TestEmptyJTINeverRevoked(t *testing.T) {
	s := New("", testLogger())
	assert.False(t, s.IsRevoked(""))
}
