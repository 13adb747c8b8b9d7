package queue

import "testing"

func TestValidateRejectsZeroStopWithPositiveResumeCount(t *testing.T) {
	s := QueueSettings{FlowStopCount: 0, FlowResumeCount: 5}
	if err := s.Validate(); err == nil {
		t.Fatal("expected an error for flow_resume_count > flow_stop_count even when flow_stop_count is 0")
	}
}

func TestValidateRejectsZeroStopWithPositiveResumeSize(t *testing.T) {
	s := QueueSettings{FlowStopSize: 0, FlowResumeSize: 5}
	if err := s.Validate(); err == nil {
		t.Fatal("expected an error for flow_resume_size > flow_stop_size even when flow_stop_size is 0")
	}
}

func TestValidateAcceptsBothZero(t *testing.T) {
	s := QueueSettings{}
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error for all-zero flow settings: %v", err)
	}
}
