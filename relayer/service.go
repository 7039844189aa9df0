// Package relayer validates, unpacks and executes submitted intents, either
// synchronously or from a queue.
package relayer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/blndgs/erc7806"
	"github.com/blndgs/erc7806/internal/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
)

// Executor runs the operations of one intent atomically.
type Executor interface {
	Execute(ctx context.Context, sender common.Address, ops []erc7806.Operation) error
}

// Receipt reports what happened to one intent of a submission.
type Receipt struct {
	Index      int             `json:"index"`
	Sender     string          `json:"sender,omitempty"`
	Standard   string          `json:"standard,omitempty"`
	Hash       string          `json:"hash,omitempty"`
	Outcome    erc7806.Outcome `json:"outcome"`
	Operations int             `json:"operations"`
	Error      string          `json:"error,omitempty"`
}

// Envelope is the queued form of a submission.
type Envelope struct {
	Ticket  string        `json:"ticket"`
	Intents hexutil.Bytes `json:"intents"`
}

// Service is the relayer. It holds everything a standard needs to judge an
// intent and the executor that applies approved ones.
type Service struct {
	registry *erc7806.Registry
	hashes   erc7806.HashChecker
	balances erc7806.BalanceOracle
	executor Executor
	chainID  *big.Int
	relayer  common.Address
	now      func() time.Time
	tickets  *Tickets
	log      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// WithTickets records queued submission results in t.
func WithTickets(t *Tickets) Option {
	return func(s *Service) {
		s.tickets = t
	}
}

// NewService wires a relayer identified as relayer on chainID.
func NewService(
	registry *erc7806.Registry,
	hashes erc7806.HashChecker,
	balances erc7806.BalanceOracle,
	executor Executor,
	chainID *big.Int,
	relayer common.Address,
	opts ...Option,
) *Service {
	s := &Service{
		registry: registry,
		hashes:   hashes,
		balances: balances,
		executor: executor,
		chainID:  new(big.Int).Set(chainID),
		relayer:  relayer,
		now:      time.Now,
		log:      logger.Named("relayer"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.tickets == nil {
		s.tickets = NewTickets(0)
	}
	return s
}

// Relayer returns the relayer identity that receives payments.
func (s *Service) Relayer() common.Address {
	return s.relayer
}

// ChainID returns the chain the service signs for.
func (s *Service) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// Tickets returns the results of queued submissions.
func (s *Service) Tickets() *Tickets {
	return s.tickets
}

func (s *Service) env() erc7806.Env {
	return erc7806.Env{
		Now:      s.now(),
		ChainID:  s.chainID,
		Balances: s.balances,
		Hashes:   s.hashes,
		Relayer:  s.relayer,
	}
}

// Validate judges one intent without executing it.
func (s *Service) Validate(ctx context.Context, intent []byte) error {
	return s.registry.Validate(ctx, intent, s.env())
}

// Submit splits a transport buffer and validates, unpacks and executes each
// intent in turn. An intent that fails leaves no trace and does not stop the
// ones after it. The error is non-nil only when the buffer cannot be split.
func (s *Service) Submit(ctx context.Context, buf []byte) ([]Receipt, error) {
	intents, err := erc7806.SplitIntents(buf)
	if err != nil {
		return nil, err
	}
	receipts := make([]Receipt, 0, len(intents))
	for i, intent := range intents {
		receipts = append(receipts, s.submitOne(ctx, i, intent))
	}
	return receipts, nil
}

func (s *Service) submitOne(ctx context.Context, index int, intent []byte) Receipt {
	receipt := Receipt{Index: index}
	sender, standardAddr, err := erc7806.GetSenderAndStandard(intent)
	if err == nil {
		receipt.Sender = sender.Hex()
		receipt.Standard = standardAddr.Hex()
	}

	finish := func(err error) Receipt {
		receipt.Outcome = erc7806.OutcomeOf(err)
		if err != nil {
			receipt.Error = err.Error()
		}
		attrs := []any{"index", index, "sender", receipt.Sender, "hash", receipt.Hash, "outcome", receipt.Outcome}
		if receipt.Outcome == erc7806.OutcomeInternal {
			s.log.Error("intent failed", append(attrs, "err", err)...)
		} else if err != nil {
			s.log.Info("intent rejected", append(attrs, "err", err)...)
		} else {
			s.log.Info("intent executed", append(attrs, "operations", receipt.Operations)...)
		}
		return receipt
	}

	standard, err := s.registry.StandardFor(intent)
	if err != nil {
		return finish(err)
	}
	if h, ok := standard.(hasher); ok {
		if hash, err := h.Hash(intent, s.chainID); err == nil {
			receipt.Hash = hash.Hex()
		}
	}

	ops, err := standard.UnpackOperations(ctx, intent, s.env())
	if err != nil {
		return finish(err)
	}
	receipt.Operations = len(ops)
	if err := s.executor.Execute(ctx, sender, ops); err != nil {
		return finish(err)
	}
	return finish(nil)
}

type hasher interface {
	Hash(intent []byte, chainID *big.Int) (common.Hash, error)
}

// Enqueue publishes a submission under ticket.
func (s *Service) Enqueue(ctx context.Context, producer Producer, ticket string, buf []byte) error {
	if _, err := erc7806.SplitIntents(buf); err != nil {
		return err
	}
	payload, err := json.Marshal(Envelope{Ticket: ticket, Intents: buf})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	s.tickets.Pending(ticket)
	if err := producer.Publish(ctx, payload); err != nil {
		s.tickets.Forget(ticket)
		return fmt.Errorf("publish ticket %s: %w", ticket, err)
	}
	return nil
}

// Run consumes queued submissions with workers goroutines until ctx ends.
func (s *Service) Run(ctx context.Context, consumer Consumer, workers int) error {
	s.log.Info("consuming submissions", "workers", workers)
	err := consumer.Consume(ctx, workers, s.handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) handle(ctx context.Context, payload []byte) error {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.log.Warn("dropping undecodable submission", "err", err)
		return err
	}
	receipts, err := s.Submit(ctx, envelope.Intents)
	if err != nil {
		s.tickets.Fail(envelope.Ticket, err)
		s.log.Warn("dropping unsplittable submission", "ticket", envelope.Ticket, "err", err)
		return err
	}
	s.tickets.Done(envelope.Ticket, receipts)
	for _, r := range receipts {
		if r.Outcome != erc7806.Approved {
			return fmt.Errorf("ticket %s: intent %d: %s", envelope.Ticket, r.Index, r.Outcome)
		}
	}
	return nil
}
