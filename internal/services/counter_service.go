package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/repairdesk/api/internal/repositories"
)

const (
	defaultTicketNumberPrefix = "RD"
	ticketSequenceDigits      = 6
)

var (
	// ErrCounterInvalidInput reports a malformed counter request.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted reports a sequence that reached its cap.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

var counterFailures = map[repositories.CounterErrorCode]error{
	repositories.CounterErrorInvalidInput: ErrCounterInvalidInput,
	repositories.CounterErrorExhausted:    ErrCounterExhausted,
}

// CounterServiceDeps wires NewCounterService. Prefix defaults to "RD".
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
	Prefix     string
}

type counterService struct {
	repo   repositories.CounterRepository
	now    func() time.Time
	prefix string
}

// NewCounterService constructs the ticket numbering service.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	svc := &counterService{
		repo:   deps.Repository,
		now:    time.Now,
		prefix: strings.ToUpper(strings.TrimSpace(deps.Prefix)),
	}
	if deps.Clock != nil {
		svc.now = deps.Clock
	}
	if svc.prefix == "" {
		svc.prefix = defaultTicketNumberPrefix
	}
	return svc, nil
}

// NextTicketNumber returns PREFIX-YYYY-NNNNNN. Each UTC year has its own sequence, and numbers
// grow past six digits instead of wrapping.
func (s *counterService) NextTicketNumber(ctx context.Context) (string, error) {
	year := s.now().UTC().Year()
	seq, err := s.draw(ctx, ticketSequence(year))
	if err != nil {
		return "", err
	}
	return formatTicketNumber(s.prefix, year, seq), nil
}

func (s *counterService) draw(ctx context.Context, sequence string) (int64, error) {
	value, err := s.repo.Next(ctx, sequence, 1)
	var counterErr *repositories.CounterError
	if err == nil || !errors.As(err, &counterErr) {
		return value, err
	}
	if sentinel, ok := counterFailures[counterErr.Code]; ok {
		return 0, fmt.Errorf("%w: %s", sentinel, counterErr.Message)
	}
	return 0, err
}

func ticketSequence(year int) string {
	return "tickets:" + strconv.Itoa(year)
}

func formatTicketNumber(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%04d-%0*d", prefix, year, ticketSequenceDigits, seq)
}
