package email

import (
	"context"
	"testing"
)

// TestNoopSender_RecordsMessages verifies sends are kept in order.
func TestNoopSender_RecordsMessages(t *testing.T) {
	s := NewNoopSender()
	ctx := context.Background()
	for _, subj := range []string{"first", "second"} {
		res, err := s.Send(ctx, Message{To: []string{"a@b.test"}, Subject: subj})
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		if res.MessageID == "" {
			t.Error("expected a message id")
		}
	}
	sent := s.Sent()
	if len(sent) != 2 || sent[0].Subject != "first" || sent[1].Subject != "second" {
		t.Errorf("sent = %+v", sent)
	}
}

// TestNewSender_PicksImplementation verifies the key decides the provider.
func TestNewSender_PicksImplementation(t *testing.T) {
	if _, ok := NewSender("", "x@y.test").(*NoopSender); !ok {
		t.Error("empty key should give NoopSender")
	}
	if _, ok := NewSender("re_test", "x@y.test").(*ResendSender); !ok {
		t.Error("key should give ResendSender")
	}
}

// TestResendSender_NoRecipients verifies the guard runs before any network call.
func TestResendSender_NoRecipients(t *testing.T) {
	s := NewResendSender("re_test", "x@y.test")
	if _, err := s.Send(context.Background(), Message{Subject: "x"}); err == nil {
		t.Error("expected error for empty recipient list")
	}
}
