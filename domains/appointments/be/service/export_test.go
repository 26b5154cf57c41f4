package service

import "time"

// SetNow replaces the clock used by the service.
func (s *Service) SetNow(now func() time.Time) {
	s.now = now
}
