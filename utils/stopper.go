package utils

import (
	"errors"
)

var ErrAlreadyStarted = errors.New("the routine is already started")

// stopper lets a background routine be started once and shut down
type stopper struct {
	stopCh chan struct{}
}

func (s *stopper) start() error {
	if s.stopCh != nil {
		return ErrAlreadyStarted
	}
	s.stopCh = make(chan struct{})
	return nil
}

func (s *stopper) Shutdown() {
	if s.stopCh == nil {
		return
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}
