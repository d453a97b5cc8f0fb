package observability

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(logrus.InfoLevel, LogFormatJSON, &buf)

	func() {
		defer RecoverPanic(logger, "worker")
		panic("boom")
	}()

	assert.Contains(t, buf.String(), "PANIC recovered")
	assert.Contains(t, buf.String(), `"context":"worker"`)
}

func TestMustRecover(t *testing.T) {
	assert.NoError(t, MustRecover(nil))
	assert.EqualError(t, MustRecover("bad"), "panic: bad")
}
