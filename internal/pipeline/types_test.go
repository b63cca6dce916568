package pipeline

import "testing"

func TestCanTransition_MonotonicAdvance(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusFetching, true},
		{StatusFetching, StatusCleaning, true},
		{StatusPending, StatusChunking, true}, // skipping stages is allowed, just not regressing
		{StatusCleaning, StatusFetching, false},
		{StatusStoring, StatusCompleted, true},
		{StatusCompleted, StatusFetching, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCanTransition_TerminalStatesAreSticky(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if CanTransition(terminal, StatusFetching) {
			t.Errorf("expected no transition out of terminal status %s", terminal)
		}
	}
}

func TestCanTransition_AnyNonTerminalCanFailOrCancel(t *testing.T) {
	for _, from := range []Status{StatusPending, StatusFetching, StatusCleaning, StatusChunking, StatusEmbedding, StatusStoring} {
		if !CanTransition(from, StatusFailed) {
			t.Errorf("expected %s -> FAILED to be allowed", from)
		}
		if !CanTransition(from, StatusCancelled) {
			t.Errorf("expected %s -> CANCELLED to be allowed", from)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !IsTerminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusFetching, StatusCleaning, StatusChunking, StatusEmbedding, StatusStoring} {
		if IsTerminal(s) {
			t.Errorf("expected %s to not be terminal", s)
		}
	}
}
