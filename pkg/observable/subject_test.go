package observable

import (
	"errors"
	"testing"
)

func TestSubjectDeliversInSubscriptionOrder(t *testing.T) {
	subject := NewSubject[int]()
	var order []string

	subject.Subscribe(func(v int) error {
		order = append(order, "first")
		return nil
	})
	subject.Subscribe(func(v int) error {
		order = append(order, "second")
		return nil
	})

	if err := subject.Emit(1); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("unexpected delivery order %v", order)
	}
}

func TestSubjectJoinsListenerErrors(t *testing.T) {
	subject := NewSubject[string]()
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	var delivered int

	subject.Subscribe(func(string) error { return errA })
	subject.Subscribe(func(string) error {
		delivered++
		return nil
	})
	subject.Subscribe(func(string) error { return errB })

	err := subject.Emit("x")
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected joined errors, got %v", err)
	}
	if delivered != 1 {
		t.Fatalf("expected delivery to continue after an error, got %d", delivered)
	}
}

func TestSubscriptionUnsubscribeIsIdempotent(t *testing.T) {
	subject := NewSubject[int]()
	var calls int
	sub := subject.Subscribe(func(int) error {
		calls++
		return nil
	})
	if sub.ID == "" {
		t.Fatalf("expected subscription id")
	}

	sub.Unsubscribe()
	sub.Unsubscribe()

	if subject.Len() != 0 {
		t.Fatalf("expected no listeners, got %d", subject.Len())
	}
	_ = subject.Emit(1)
	if calls != 0 {
		t.Fatalf("expected listener to be detached, got %d calls", calls)
	}
}

func TestUnsubscribeDuringEmitSkipsLaterListener(t *testing.T) {
	subject := NewSubject[int]()
	var second *Subscription
	var secondCalls int

	subject.Subscribe(func(int) error {
		second.Unsubscribe()
		return nil
	})
	second = subject.Subscribe(func(int) error {
		secondCalls++
		return nil
	})

	_ = subject.Emit(1)
	if secondCalls != 0 {
		t.Fatalf("expected listener removed mid-emit to be skipped")
	}
}

func TestSubscribeDuringEmitWaitsForNextValue(t *testing.T) {
	subject := NewSubject[int]()
	var seen []int
	var subscribed bool

	subject.Subscribe(func(v int) error {
		if !subscribed {
			subscribed = true
			subject.Subscribe(func(v int) error {
				seen = append(seen, v)
				return nil
			})
		}
		return nil
	})

	_ = subject.Emit(1)
	_ = subject.Emit(2)
	if len(seen) != 1 || seen[0] != 2 {
		t.Fatalf("expected late subscriber to see only the next value, got %v", seen)
	}
}

func TestNilListenerSubscriptionIsInert(t *testing.T) {
	var subject Subject[int]
	sub := subject.Subscribe(nil)
	sub.Unsubscribe()
	if err := subject.Emit(1); err != nil {
		t.Fatalf("emit: %v", err)
	}
}
