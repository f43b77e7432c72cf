package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"vouch/internal/platform/metrics"
)

type WorkerSuite struct {
	suite.Suite
	ctx    context.Context
	outbox *InMemoryOutbox
	chat   *fakeChannel
	mail   *fakeChannel
	worker *Worker
	clock  time.Time
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupTest() {
	s.ctx = context.Background()
	s.outbox = NewInMemoryOutbox()
	s.chat = &fakeChannel{name: "chatops"}
	s.mail = &fakeChannel{name: "email"}
	s.clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	fanout := NewFanout([]Channel{s.chat, s.mail}, slog.Default(), metrics.NewForTesting())
	s.worker = NewWorker(s.outbox, fanout, slog.Default(),
		WithMaxAttempts(3),
		WithBaseBackoff(2*time.Second),
	)
	s.worker.now = func() time.Time { return s.clock }
}

func (s *WorkerSuite) enqueue() Event {
	ev := testEvent()
	s.Require().NoError(s.outbox.Enqueue(s.ctx, ev, s.clock))
	return ev
}

// =====================================================================
// Delivery
// =====================================================================

func (s *WorkerSuite) TestAllChannelsSucceedMarksDelivered() {
	ev := s.enqueue()

	s.Require().NoError(s.worker.ProcessOnce(s.ctx))

	rec, ok := s.outbox.Get(ev.ID)
	s.Require().True(ok)
	s.Equal(StateDelivered, rec.State)
	s.Equal(1, rec.Attempts)
	s.Equal(DeliverySent, rec.ChannelStatus["chatops"])
	s.Equal(DeliverySent, rec.ChannelStatus["email"])
}

func (s *WorkerSuite) TestFailedChannelRescheduledWithBackoff() {
	s.mail.fail = errors.New("rate limited")
	ev := s.enqueue()

	s.Require().NoError(s.worker.ProcessOnce(s.ctx))

	rec, ok := s.outbox.Get(ev.ID)
	s.Require().True(ok)
	s.Equal(StatePending, rec.State)
	s.Equal(DeliverySent, rec.ChannelStatus["chatops"])
	s.Equal(DeliveryFailed, rec.ChannelStatus["email"])
	s.Equal(s.clock.Add(2*time.Second), rec.NextAttempt)
}

func (s *WorkerSuite) TestRetryOnlyTouchesFailedChannels() {
	s.mail.fail = errors.New("rate limited")
	ev := s.enqueue()
	s.Require().NoError(s.worker.ProcessOnce(s.ctx))

	s.mail.fail = nil
	s.clock = s.clock.Add(5 * time.Second)
	s.Require().NoError(s.worker.ProcessOnce(s.ctx))

	s.Equal(1, s.chat.sendCount(), "chatops already delivered, not resent")
	s.Equal(2, s.mail.sendCount())

	rec, ok := s.outbox.Get(ev.ID)
	s.Require().True(ok)
	s.Equal(StateDelivered, rec.State)
	s.Equal(2, rec.Attempts)
}

func (s *WorkerSuite) TestBackoffGrowsExponentially() {
	s.mail.fail = errors.New("still down")
	ev := s.enqueue()

	s.Require().NoError(s.worker.ProcessOnce(s.ctx))
	rec, _ := s.outbox.Get(ev.ID)
	s.Equal(s.clock.Add(2*time.Second), rec.NextAttempt)

	s.clock = rec.NextAttempt
	s.Require().NoError(s.worker.ProcessOnce(s.ctx))
	rec, _ = s.outbox.Get(ev.ID)
	s.Equal(s.clock.Add(4*time.Second), rec.NextAttempt)
}

func (s *WorkerSuite) TestExhaustedAfterMaxAttemptsAndParked() {
	s.mail.fail = errors.New("still down")
	ev := s.enqueue()

	for i := 0; i < 3; i++ {
		s.Require().NoError(s.worker.ProcessOnce(s.ctx))
		rec, _ := s.outbox.Get(ev.ID)
		s.clock = rec.NextAttempt.Add(time.Second)
	}

	rec, ok := s.outbox.Get(ev.ID)
	s.Require().True(ok)
	s.Equal(StateExhausted, rec.State)
	s.Equal(3, rec.Attempts)

	// Parked records are no longer picked up.
	before := s.mail.sendCount()
	s.Require().NoError(s.worker.ProcessOnce(s.ctx))
	s.Equal(before, s.mail.sendCount())
}

func (s *WorkerSuite) TestNonRetryableFailureParksImmediately() {
	s.mail.fail = &ChannelError{Channel: "email", StatusCode: 400, Retryable: false, Message: "bad address"}
	ev := s.enqueue()

	s.Require().NoError(s.worker.ProcessOnce(s.ctx))

	rec, ok := s.outbox.Get(ev.ID)
	s.Require().True(ok)
	s.Equal(StateExhausted, rec.State, "nothing left worth retrying")
	s.Equal(1, rec.Attempts)
	s.Equal(DeliverySent, rec.ChannelStatus["chatops"])
	s.Equal(DeliveryRejected, rec.ChannelStatus["email"])

	// A later round must not resend the rejected payload.
	s.clock = s.clock.Add(time.Minute)
	s.Require().NoError(s.worker.ProcessOnce(s.ctx))
	s.Equal(1, s.mail.sendCount())
}

func (s *WorkerSuite) TestRejectedChannelSkippedWhileOthersRetry() {
	s.mail.fail = &ChannelError{Channel: "email", StatusCode: 401, Retryable: false, Message: "bad api key"}
	s.chat.fail = errors.New("webhook timeout")
	ev := s.enqueue()

	s.Require().NoError(s.worker.ProcessOnce(s.ctx))
	rec, _ := s.outbox.Get(ev.ID)
	s.Equal(StatePending, rec.State, "chatops is still retryable")
	s.Equal(DeliveryRejected, rec.ChannelStatus["email"])
	s.Equal(DeliveryFailed, rec.ChannelStatus["chatops"])

	s.chat.fail = nil
	s.clock = rec.NextAttempt.Add(time.Second)
	s.Require().NoError(s.worker.ProcessOnce(s.ctx))

	s.Equal(1, s.mail.sendCount(), "rejected channel never retried")
	s.Equal(2, s.chat.sendCount())

	rec, _ = s.outbox.Get(ev.ID)
	s.Equal(StateExhausted, rec.State, "one channel rejected, so never fully delivered")
	s.Equal(DeliverySent, rec.ChannelStatus["chatops"])
}

func (s *WorkerSuite) TestRecordNotDueIsLeftAlone() {
	s.mail.fail = errors.New("down")
	s.enqueue()
	s.Require().NoError(s.worker.ProcessOnce(s.ctx))

	// Next attempt is 2s out; a round run now must not retry.
	s.Require().NoError(s.worker.ProcessOnce(s.ctx))
	s.Equal(1, s.mail.sendCount())
}

func TestWorkerKickDoesNotBlock(t *testing.T) {
	w := NewWorker(NewInMemoryOutbox(), NewFanout(nil, slog.Default(), nil), slog.Default())
	for i := 0; i < 10; i++ {
		w.Kick()
	}
	require.Len(t, w.kick, 1)
}
