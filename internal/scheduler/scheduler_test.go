package scheduler

import "testing"

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("30 7 * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if got := s.Jobs(); got != 1 {
		t.Errorf("Jobs() = %d, want 1", got)
	}

	if err := s.AddJob("not a cron expression", func() {}); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
	if got := s.Jobs(); got != 1 {
		t.Errorf("Jobs() after invalid expression = %d, want 1", got)
	}
}
