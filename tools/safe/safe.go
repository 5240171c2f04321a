package safe

import (
	"github.com/splits-network/splits-sub020/logger"
)

// Go starts a new goroutine that recovers from panic,
// so a misbehaving callback cannot crash the whole process.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v", r)
			}
		}()
		f()
	}()
}

// Call runs f on the current goroutine with the same recover guard.
// Used by fan-out paths where one subscriber must not take down the rest.
func Call(f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[safe.Call] panic recovered: %v", r)
		}
	}()
	f()
}
