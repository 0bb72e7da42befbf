package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/opencode-ai/streamd/internal/event"
	"github.com/opencode-ai/streamd/internal/tool"
	"github.com/opencode-ai/streamd/pkg/types"
)

var (
	// ErrQuestionNotFound is returned when answering a question that is not
	// waiting for answers.
	ErrQuestionNotFound = errors.New("question not found")

	// ErrQuestionCancelled is returned to the question tool when the stream
	// that asked was aborted.
	ErrQuestionCancelled = errors.New("question cancelled")
)

type pendingQuestion struct {
	info   types.PendingQuestion
	answer chan []string
	cancel chan struct{}
}

// Ask implements tool.Asker. It parks the question until Answer is called
// for its call id, the asking stream is aborted or the service shuts down.
// A question.asked notification tells clients what to answer.
func (s *Service) Ask(ctx context.Context, call tool.Call, questions []tool.Question) ([]string, error) {
	p := &pendingQuestion{
		info: types.PendingQuestion{
			SessionID: call.SessionID,
			MessageID: call.MessageID,
			CallID:    call.CallID,
			Questions: questions,
			Time:      time.Now().UnixMilli(),
		},
		answer: make(chan []string, 1),
		cancel: make(chan struct{}),
	}

	s.qmu.Lock()
	if _, dup := s.questions[call.CallID]; dup {
		s.qmu.Unlock()
		return nil, fmt.Errorf("question %s is already pending", call.CallID)
	}
	s.questions[call.CallID] = p
	s.qmu.Unlock()
	defer s.forgetQuestion(call.CallID, p)

	// Abort cancels registered questions; one registered after that would
	// wait forever.
	s.mu.Lock()
	as, ok := s.active[call.SessionID]
	live := ok && !as.aborted
	s.mu.Unlock()
	if !live {
		return nil, ErrQuestionCancelled
	}

	s.log.Debug().Str("sessionID", call.SessionID).Str("callID", call.CallID).Msg("Waiting for answers")
	s.publish(event.QuestionAsked, event.QuestionAskedData{Question: p.info})

	select {
	case answers := <-p.answer:
		return answers, nil
	case <-p.cancel:
		return nil, ErrQuestionCancelled
	case <-call.StopCh:
		return nil, ErrServiceClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Answer delivers the user's answers to a waiting question.
func (s *Service) Answer(sessionID, callID string, answers []string) error {
	s.qmu.Lock()
	p, ok := s.questions[callID]
	if !ok || p.info.SessionID != sessionID {
		s.qmu.Unlock()
		return fmt.Errorf("%w: %s", ErrQuestionNotFound, callID)
	}
	delete(s.questions, callID)
	s.qmu.Unlock()

	p.answer <- answers
	s.publish(event.QuestionReplied, event.QuestionRepliedData{
		SessionID: sessionID,
		CallID:    callID,
		Answers:   answers,
	})
	return nil
}

// PendingQuestions lists the questions of a session waiting for answers,
// oldest first.
func (s *Service) PendingQuestions(sessionID string) []types.PendingQuestion {
	s.qmu.Lock()
	defer s.qmu.Unlock()

	out := []types.PendingQuestion{}
	for _, p := range s.questions {
		if p.info.SessionID == sessionID {
			out = append(out, p.info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].CallID < out[j].CallID
	})
	return out
}

// cancelQuestions releases every question a session is waiting on.
func (s *Service) cancelQuestions(sessionID string) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	for id, p := range s.questions {
		if p.info.SessionID == sessionID {
			delete(s.questions, id)
			close(p.cancel)
		}
	}
}

func (s *Service) forgetQuestion(callID string, p *pendingQuestion) {
	s.qmu.Lock()
	if s.questions[callID] == p {
		delete(s.questions, callID)
	}
	s.qmu.Unlock()
}
