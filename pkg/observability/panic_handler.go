package observability

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic recovers from a panic and logs it with the stack trace.
// Call it in a defer at the top of background goroutines:
//
//	defer observability.RecoverPanic(logger, "reconcile subscription")
//
// The panic is not re-raised.
func RecoverPanic(logger logrus.FieldLogger, context string) {
	if r := recover(); r != nil {
		logPanic(logger, context, r)
	}
}

// MustRecover converts a recovered value into an error, nil when r is nil
//
//	defer func() {
//		if perr := observability.MustRecover(recover()); perr != nil {
//			err = perr
//		}
//	}()
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}

func logPanic(logger logrus.FieldLogger, context string, r interface{}) {
	logger.WithFields(logrus.Fields{
		"panic":   r,
		"stack":   string(debug.Stack()),
		"context": context,
	}).Error("PANIC recovered")
}
