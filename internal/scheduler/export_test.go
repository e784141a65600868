package scheduler

func (s *Scheduler) Armed(userID string) (string, bool) {
	return s.armedToken(userID)
}
