package service

// SetSuffixFunc replaces the random tenant id suffix generator.
func (s *Service) SetSuffixFunc(fn func() (string, error)) {
	s.suffix = fn
}
