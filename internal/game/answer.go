package game

import (
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Gandolfi-G/duel-dot/engine"
)

// HandleAnswer evaluates one submitted answer from the player bound to the
// channel. All rejections are pushed as feedback, never raised as errors;
// requests from unbound channels are silently dropped.
func (s *Session) HandleAnswer(channelID uuid.UUID, roundID uuid.UUID, answer float64) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	p := s.playerByChannel(channelID)
	if p == nil {
		return
	}
	if s.Phase != PhasePlaying || s.Round == nil {
		s.fireEventToPlayer(p, feedbackEvent(false, false, "no active round"))
		return
	}
	if roundID != s.Round.ID {
		s.fireEventToPlayer(p, feedbackEvent(false, false, "round is no longer active"))
		return
	}
	if math.IsNaN(answer) || math.IsInf(answer, 0) {
		s.fireEventToPlayer(p, feedbackEvent(false, false, "answer must be a finite number"))
		return
	}

	outcome := s.Round.Evaluate(p.ID, answer, s.clock.Now())
	switch outcome {
	case engine.OutcomeIgnoredResolved:
		s.fireEventToPlayer(p, feedbackEvent(false, false, "round already resolved"))
	case engine.OutcomeIgnoredDuplicate:
		s.fireEventToPlayer(p, feedbackEvent(false, false, "answer already recorded for this round"))
	case engine.OutcomeIncorrect:
		s.fireEventToPlayer(p, feedbackEvent(true, false, "incorrect"))
		s.logEvent(p.ID, "answer_incorrect", map[string]interface{}{"roundId": roundID.String()})
		s.broadcastState()
	case engine.OutcomeCorrectPending:
		s.fireEventToPlayer(p, feedbackEvent(true, true, "correct"))
		s.logEvent(p.ID, "answer_correct", map[string]interface{}{"roundId": roundID.String()})
		if !s.timers.scheduled(timerResolveDebounce) {
			// First correct answer: the round will now resolve via the
			// debounce window, so the timeout no longer applies.
			s.timers.cancel(timerRoundTimeout)
			rid := s.Round.ID
			s.timers.schedule(timerResolveDebounce, s.cfg.ResolveDebounce, func() { s.onResolveDebounce(rid) })
		}
		s.broadcastState()
	}
}

func feedbackEvent(accepted, correct bool, msg string) Event {
	return Event{
		Type:     EventAnswerFeedback,
		Feedback: &AnswerFeedback{Accepted: accepted, IsCorrect: correct, Message: msg},
	}
}

// ---------------------------------------------------------------------------
// Round lifecycle — lock held by caller (timer callbacks re-acquire it)
// ---------------------------------------------------------------------------

// startRound generates a fresh round and arms its timeout.
func (s *Session) startRound() {
	now := s.clock.Now()
	s.Round = engine.NewRound(s.newRoundID, s.rng, now)
	rid := s.Round.ID
	s.timers.schedule(timerRoundTimeout, s.cfg.RoundTimeout, func() { s.onRoundTimeout(rid) })
	s.log.WithFields(logrus.Fields{"round": rid, "prompt": s.Round.Prompt()}).Info("round started")
	s.logEvent(uuid.Nil, "round_start", map[string]interface{}{
		"roundId": rid.String(),
		"prompt":  s.Round.Prompt(),
	})
	s.broadcastState()
}

// onResolveDebounce finalizes the round once the contest window has
// elapsed and awards the point. Keyed to a roundId: if the round has since
// moved on, the stale callback is a no-op.
func (s *Session) onResolveDebounce(roundID uuid.UUID) {
	if s.Phase != PhasePlaying || s.Round == nil || s.Round.ID != roundID {
		return
	}
	now := s.clock.Now()
	if !s.Round.Finalize(now) {
		return
	}

	winner := s.Round.WinnerID
	scores, won := s.Scores.AwardPoint(winner, s.cfg.TargetScore)
	s.Scores = scores

	result := RoundResult{
		RoundID:        roundID,
		WinnerPlayerID: winner,
		WinnerScore:    scores[winner],
		CorrectAnswer:  s.Round.Expected,
	}
	s.log.WithFields(logrus.Fields{"round": roundID, "winner": winner, "score": scores[winner]}).Info("round resolved")
	s.logEvent(winner, "round_resolved", map[string]interface{}{
		"roundId":     roundID.String(),
		"winnerScore": scores[winner],
	})
	s.fireEvent(Event{Type: EventRoundResolved, Resolved: &result})
	s.Round = nil

	if won {
		s.finish(winner, "target_reached")
		return
	}
	s.timers.schedule(timerNextRound, s.cfg.NextRoundDelay, s.onNextRound)
	s.broadcastState()
}

// onNextRound starts the follow-up round after the inter-round delay.
func (s *Session) onNextRound() {
	if s.Phase != PhasePlaying {
		return
	}
	s.startRound()
}

// onRoundTimeout replaces an unanswered round with a fresh one; scores are
// unaffected.
func (s *Session) onRoundTimeout(roundID uuid.UUID) {
	if s.Phase != PhasePlaying || s.Round == nil || s.Round.ID != roundID {
		return
	}
	now := s.clock.Now()
	if !s.Round.TimedOut(now, s.cfg.RoundTimeout) {
		return
	}
	s.log.WithField("round", roundID).Info("round timed out")
	s.logEvent(uuid.Nil, "round_timeout", map[string]interface{}{"roundId": roundID.String()})
	s.Round = s.Round.ResolveTimeout(now, s.cfg.RoundTimeout, func() *engine.Round {
		return engine.NewRound(s.newRoundID, s.rng, now)
	})
	rid := s.Round.ID
	s.timers.schedule(timerRoundTimeout, s.cfg.RoundTimeout, func() { s.onRoundTimeout(rid) })
	s.broadcastState()
}
