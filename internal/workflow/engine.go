package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/stakeflow/stakeflow/internal/amount"
	"github.com/stakeflow/stakeflow/internal/balance"
	"github.com/stakeflow/stakeflow/internal/chain"
	"github.com/stakeflow/stakeflow/internal/journal"
	"github.com/stakeflow/stakeflow/internal/metrics"
	"github.com/stakeflow/stakeflow/internal/notification"
	"github.com/stakeflow/stakeflow/internal/poll"
)

const (
	journalTimeout = 5 * time.Second
	faultMessage   = "something went wrong, please try again"
)

// Options tunes the confirmation pipeline.
type Options struct {
	// ApprovePollInterval and ApprovePollAttempts bound the allowance poll
	// that follows an approve receipt.
	ApprovePollInterval time.Duration
	ApprovePollAttempts int
	// ConfirmDelay is waited after every receipt before the ledger is read back.
	// Zero skips the wait.
	ConfirmDelay time.Duration
	// StrictAllowance fails an approve whose observed allowance is positive
	// but below the approved amount.
	StrictAllowance bool
	// TokenSymbol is used in user-facing messages.
	TokenSymbol string
	// Authorize, when set, vets an account before Connect binds it.
	Authorize func(common.Address) error
}

// DefaultOptions returns the production timing.
func DefaultOptions() Options {
	return Options{
		ApprovePollInterval: time.Second,
		ApprovePollAttempts: 10,
		ConfirmDelay:        time.Second,
		TokenSymbol:         "USDC",
	}
}

// Deps groups the collaborators of an Engine.
type Deps struct {
	Ledger   chain.Ledger
	Notifier notification.Notifier
	Journal  journal.Journal
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

// Engine runs the approve, deposit and withdraw workflows for the connected
// account on top of a balance cache.
type Engine struct {
	ledger   chain.Ledger
	cache    *balance.Cache
	notifier notification.Notifier
	journal  journal.Journal
	metrics  *metrics.Recorder
	logger   *slog.Logger
	opts     Options

	machines map[chain.Kind]*Machine

	mu           sync.RWMutex
	account      *common.Address
	stakeInput   string
	unstakeInput string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine wires an engine. Unset poll bounds and TokenSymbol fall back to
// DefaultOptions; ConfirmDelay is used as given.
func NewEngine(deps Deps, opts Options) (*Engine, error) {
	if deps.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	def := DefaultOptions()
	if opts.ApprovePollInterval <= 0 {
		opts.ApprovePollInterval = def.ApprovePollInterval
	}
	if opts.ApprovePollAttempts <= 0 {
		opts.ApprovePollAttempts = def.ApprovePollAttempts
	}
	if opts.ConfirmDelay < 0 {
		opts.ConfirmDelay = 0
	}
	if opts.TokenSymbol == "" {
		opts.TokenSymbol = def.TokenSymbol
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(logger)
	}
	store := deps.Journal
	if store == nil {
		store = journal.NewInMemory()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		ledger:   deps.Ledger,
		cache:    balance.NewCache(deps.Ledger, deps.Ledger.Spender(), logger, deps.Metrics),
		notifier: notifier,
		journal:  store,
		metrics:  deps.Metrics,
		logger:   logger.With(slog.String("component", "workflow")),
		opts:     opts,
		machines: make(map[chain.Kind]*Machine, len(chain.Kinds)),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, kind := range chain.Kinds {
		e.machines[kind] = newMachine(kind, e.observe)
	}
	return e, nil
}

// Close stops every follow-up goroutine. Transactions that have not resolved
// are abandoned in their current state.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Cache exposes the balance cache.
func (e *Engine) Cache() *balance.Cache { return e.cache }

// Machine returns the state machine of kind.
func (e *Engine) Machine(kind chain.Kind) *Machine { return e.machines[kind] }

// Journal returns the transaction journal.
func (e *Engine) Journal() journal.Journal { return e.journal }

// Account returns the connected account.
func (e *Engine) Account() (common.Address, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.account == nil {
		return common.Address{}, false
	}
	return *e.account, true
}

// Connect binds addr and refreshes every cached field. Reconnecting the same
// account only refreshes.
func (e *Engine) Connect(ctx context.Context, addr common.Address) error {
	if e.opts.Authorize != nil {
		if err := e.opts.Authorize(addr); err != nil {
			return err
		}
	}

	e.mu.Lock()
	switch {
	case e.account != nil && *e.account != addr:
		e.mu.Unlock()
		return ErrAlreadyConnected
	case e.account == nil:
		if e.anyBusy() {
			e.mu.Unlock()
			return ErrBusy
		}
		a := addr
		e.account = &a
		e.stakeInput, e.unstakeInput = "", ""
		e.cache.Bind(&a)
		e.logger.Info("account connected", slog.String("account", a.Hex()))
	}
	e.mu.Unlock()

	e.cache.RefreshAll(ctx)
	return nil
}

// Disconnect unbinds the account and forgets every cached value.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.account == nil {
		return nil
	}
	if e.anyBusy() {
		return ErrBusy
	}
	e.logger.Info("account disconnected", slog.String("account", e.account.Hex()))
	e.account = nil
	e.stakeInput, e.unstakeInput = "", ""
	e.cache.Bind(nil)
	return nil
}

func (e *Engine) anyBusy() bool {
	for _, m := range e.machines {
		if m.Busy() {
			return true
		}
	}
	return false
}

// Refresh re-reads every cached field.
func (e *Engine) Refresh(ctx context.Context) bool {
	return e.cache.RefreshAll(ctx)
}

// SetStakeAmount stores the stake field. Empty clears it; anything else must
// be a valid amount.
func (e *Engine) SetStakeAmount(s string) error {
	return e.setInput(&e.stakeInput, s)
}

// SetUnstakeAmount stores the unstake field.
func (e *Engine) SetUnstakeAmount(s string) error {
	return e.setInput(&e.unstakeInput, s)
}

func (e *Engine) setInput(field *string, s string) error {
	s = strings.TrimSpace(s)
	if s != "" {
		if _, err := amount.Parse(s); err != nil {
			return err
		}
	}
	e.mu.Lock()
	*field = s
	e.mu.Unlock()
	return nil
}

// SetMaxStake copies the wallet balance into the stake field. It reports
// false and changes nothing while the balance is unknown.
func (e *Engine) SetMaxStake() bool {
	return e.setMax(&e.stakeInput, balance.WalletBalance)
}

// SetMaxUnstake copies the staked position into the unstake field.
func (e *Engine) SetMaxUnstake() bool {
	return e.setMax(&e.unstakeInput, balance.StakedPosition)
}

func (e *Engine) setMax(field *string, f balance.Field) bool {
	v, ok := e.cache.Get(f)
	if !ok {
		return false
	}
	e.mu.Lock()
	*field = amount.Format(v)
	e.mu.Unlock()
	return true
}

// Approve authorizes the adapter to pull the stake amount.
func (e *Engine) Approve(ctx context.Context) (*PendingTransaction, error) {
	return e.submit(ctx, chain.KindApprove)
}

// Deposit stakes the stake amount.
func (e *Engine) Deposit(ctx context.Context) (*PendingTransaction, error) {
	return e.submit(ctx, chain.KindDeposit)
}

// Withdraw unstakes the unstake amount.
func (e *Engine) Withdraw(ctx context.Context) (*PendingTransaction, error) {
	return e.submit(ctx, chain.KindWithdraw)
}

func (e *Engine) submit(ctx context.Context, kind chain.Kind) (out *PendingTransaction, err error) {
	m := e.machines[kind]
	if m.Busy() {
		e.metrics.Rejection(string(kind), reasonLabel(ErrBusy))
		return nil, ErrBusy
	}

	tx, err := e.claim(m, kind)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			e.metrics.Rejection(string(kind), reasonLabel(err))
		} else {
			e.rejected(kind, err)
		}
		return nil, err
	}
	e.record(tx)

	defer func() {
		if r := recover(); r != nil {
			e.recoverFault(m, tx, r)
			out, err = nil, fmt.Errorf("%w: panic: %v", ErrSubmission, r)
		}
	}()

	handle, err := e.write(ctx, kind, tx.Account, tx.Amount)
	if err != nil {
		e.logger.Error("submission failed",
			slog.String("kind", string(kind)),
			slog.String("tx_id", tx.ID.String()),
			slog.Any("error", err))
		e.fail(m, tx, err)
		return nil, fmt.Errorf("%w: %w", ErrSubmission, err)
	}

	tx.setHash(handle.Hash())
	if err := m.transition(StateAwaitingConfirmation); err != nil {
		return nil, err
	}
	e.update(tx)
	e.notify(notification.SeverityInfo, kind, e.submittingMessage(kind))
	e.logger.Info("transaction submitted",
		slog.String("kind", string(kind)),
		slog.String("tx_id", tx.ID.String()),
		slog.String("hash", handle.Hash().Hex()),
		slog.String("amount", amount.Format(tx.Amount)))

	e.wg.Add(1)
	go e.follow(m, tx, handle)
	return tx, nil
}

// claim validates the action and moves its machine to Submitting. The account
// lock is held throughout so a concurrent Disconnect either precedes the
// checks or finds the kind busy.
func (e *Engine) claim(m *Machine, kind chain.Kind) (*PendingTransaction, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	account, amt, err := e.validate(kind)
	if err != nil {
		return nil, err
	}
	tx := newPending(kind, account, amt)
	if err := m.begin(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// validate applies the pre-submission checks against the cached ledger view.
// Callers hold e.mu.
func (e *Engine) validate(kind chain.Kind) (common.Address, *uint256.Int, error) {
	account, input := e.account, e.stakeInput
	if kind == chain.KindWithdraw {
		input = e.unstakeInput
	}

	if account == nil {
		return common.Address{}, nil, reject(kind, ErrDisconnected)
	}
	amt, err := amount.Parse(input)
	if err != nil {
		if errors.Is(err, amount.ErrEmpty) {
			err = ErrNoAmount
		}
		return common.Address{}, nil, reject(kind, err)
	}
	if amt.IsZero() {
		return common.Address{}, nil, reject(kind, ErrNoAmount)
	}

	switch kind {
	case chain.KindDeposit:
		allowance, ok := e.cache.Get(balance.Allowance)
		if !ok || allowance.IsZero() {
			return common.Address{}, nil, reject(kind, ErrNoAllowance)
		}
		if allowance.Lt(amt) {
			return common.Address{}, nil, reject(kind, ErrAllowanceBelowAmount)
		}
		wallet, ok := e.cache.Get(balance.WalletBalance)
		if !ok || wallet.Lt(amt) {
			return common.Address{}, nil, reject(kind, ErrInsufficientWallet)
		}
	case chain.KindWithdraw:
		staked, ok := e.cache.Get(balance.StakedPosition)
		if !ok || staked.Lt(amt) {
			return common.Address{}, nil, reject(kind, ErrInsufficientStaked)
		}
	}
	return *account, amt, nil
}

func (e *Engine) write(ctx context.Context, kind chain.Kind, from common.Address, amt *uint256.Int) (chain.Pending, error) {
	switch kind {
	case chain.KindApprove:
		return e.ledger.Approve(ctx, from, e.ledger.Spender(), amt)
	case chain.KindDeposit:
		return e.ledger.Deposit(ctx, from, amt)
	case chain.KindWithdraw:
		return e.ledger.Withdraw(ctx, from, amt)
	default:
		return nil, fmt.Errorf("unknown action %q", kind)
	}
}

// follow drives a submitted transaction to its terminal state.
func (e *Engine) follow(m *Machine, tx *PendingTransaction, handle chain.Pending) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.recoverFault(m, tx, r)
		}
	}()

	receipt, err := handle.Wait(e.ctx)
	if err != nil {
		if e.ctx.Err() != nil {
			e.abandon(tx)
			return
		}
		e.fail(m, tx, err)
		return
	}
	e.logger.Debug("receipt received",
		slog.String("kind", string(tx.Kind)),
		slog.String("hash", receipt.Hash.Hex()),
		slog.Uint64("block", receipt.BlockNumber))

	if err := poll.Wait(e.ctx, e.opts.ConfirmDelay); err != nil {
		e.abandon(tx)
		return
	}

	if tx.Kind == chain.KindApprove {
		e.confirmApprove(m, tx)
		return
	}
	e.confirmTransfer(m, tx)
}

// confirmApprove polls the allowance until it becomes visible. A poll that
// never observes it still completes the workflow, as a soft success.
func (e *Engine) confirmApprove(m *Machine, tx *PendingTransaction) {
	var seen *uint256.Int
	res, err := poll.Until(e.ctx, poll.Policy{
		Attempts: e.opts.ApprovePollAttempts,
		Interval: e.opts.ApprovePollInterval,
	}, func(ctx context.Context, attempt int) bool {
		v, ok := e.cache.Fetch(ctx, balance.Allowance)
		e.logger.Debug("allowance poll", slog.Int("attempt", attempt), slog.Bool("read", ok))
		if !ok {
			return false
		}
		seen = v
		return !v.IsZero()
	})
	e.metrics.PollAttempts(res.Attempts)
	if err != nil {
		e.abandon(tx)
		return
	}

	if !res.Satisfied {
		e.logger.Warn("allowance not visible after approve",
			slog.String("tx_id", tx.ID.String()),
			slog.Int("attempts", res.Attempts))
		tx.setSoft()
		e.succeed(m, tx, notification.SeverityInfo, "approval completed")
		return
	}
	if e.opts.StrictAllowance && seen.Lt(tx.Amount) {
		e.fail(m, tx, fmt.Errorf("%w: have %s, want %s",
			ErrAllowanceMismatch, amount.Format(seen), amount.Format(tx.Amount)))
		return
	}
	e.succeed(m, tx, notification.SeveritySuccess,
		fmt.Sprintf("%s approved, you can stake now", e.opts.TokenSymbol))
}

// confirmTransfer reads back the balances a deposit or withdraw moved, then
// clears the field the amount came from.
func (e *Engine) confirmTransfer(m *Machine, tx *PendingTransaction) {
	if !e.cache.RefreshFields(e.ctx, balance.WalletBalance, balance.StakedPosition, balance.TotalStaked) {
		e.logger.Warn("post-confirmation refresh incomplete", slog.String("tx_id", tx.ID.String()))
	}

	body := fmt.Sprintf("%s staked", e.opts.TokenSymbol)
	field := &e.stakeInput
	if tx.Kind == chain.KindWithdraw {
		body = fmt.Sprintf("%s unstaked", e.opts.TokenSymbol)
		field = &e.unstakeInput
	}

	if err := m.transition(StateConfirmed); err != nil {
		panic(err)
	}
	e.notify(notification.SeveritySuccess, tx.Kind, body)
	e.mu.Lock()
	*field = ""
	e.mu.Unlock()
	e.complete(m, tx)
}

func (e *Engine) succeed(m *Machine, tx *PendingTransaction, sev notification.Severity, body string) {
	if err := m.transition(StateConfirmed); err != nil {
		panic(err)
	}
	e.notify(sev, tx.Kind, body)
	e.complete(m, tx)
}

func (e *Engine) fail(m *Machine, tx *PendingTransaction, cause error) {
	tx.setErr(cause)
	if err := m.transition(StateFailed); err != nil {
		panic(err)
	}
	e.logger.Warn("transaction failed",
		slog.String("kind", string(tx.Kind)),
		slog.String("tx_id", tx.ID.String()),
		slog.Any("error", cause))

	body := e.failureMessage(tx.Kind)
	if errors.Is(cause, ErrAllowanceMismatch) {
		body = ErrAllowanceMismatch.Error()
	}
	e.notify(notification.SeverityError, tx.Kind, body)
	e.complete(m, tx)
}

// complete journals the terminal state, discards the transaction and
// releases waiters.
func (e *Engine) complete(m *Machine, tx *PendingTransaction) {
	e.update(tx)
	m.discard()
	tx.finish()
}

// recoverFault returns a kind whose workflow panicked to Idle.
func (e *Engine) recoverFault(m *Machine, tx *PendingTransaction, r any) {
	e.logger.Error("workflow panicked",
		slog.String("kind", string(tx.Kind)),
		slog.String("tx_id", tx.ID.String()),
		slog.Any("panic", r))
	tx.setErr(fmt.Errorf("panic: %v", r))
	e.notify(notification.SeverityError, tx.Kind, faultMessage)
	if m.Pending() == tx {
		m.abort()
	}
	e.update(tx)
	tx.finish()
}

func (e *Engine) abandon(tx *PendingTransaction) {
	e.logger.Warn("abandoning unresolved transaction",
		slog.String("kind", string(tx.Kind)),
		slog.String("tx_id", tx.ID.String()))
}

func (e *Engine) rejected(kind chain.Kind, err error) {
	e.metrics.Rejection(string(kind), reasonLabel(err))
	e.logger.Info("action rejected", slog.String("kind", string(kind)), slog.Any("reason", err))
	e.notify(notification.SeverityError, kind, err.Error())
}

func (e *Engine) observe(kind chain.Kind, from, to State) {
	e.metrics.Transition(string(kind), string(to))
	e.logger.Debug("state transition",
		slog.String("kind", string(kind)),
		slog.String("from", string(from)),
		slog.String("to", string(to)))
}

func (e *Engine) notify(sev notification.Severity, kind chain.Kind, body string) {
	msg := notification.Message{Severity: sev, Kind: string(kind), Body: body, At: time.Now().UTC()}
	if err := e.notifier.Send(context.Background(), msg); err != nil {
		e.logger.Warn("notification delivery failed", slog.Any("error", err))
	}
}

func (e *Engine) submittingMessage(kind chain.Kind) string {
	switch kind {
	case chain.KindApprove:
		return fmt.Sprintf("approving %s...", e.opts.TokenSymbol)
	case chain.KindDeposit:
		return fmt.Sprintf("staking %s...", e.opts.TokenSymbol)
	default:
		return fmt.Sprintf("unstaking %s...", e.opts.TokenSymbol)
	}
}

func (e *Engine) failureMessage(kind chain.Kind) string {
	switch kind {
	case chain.KindApprove:
		return fmt.Sprintf("failed to approve %s", e.opts.TokenSymbol)
	case chain.KindDeposit:
		return fmt.Sprintf("failed to stake %s", e.opts.TokenSymbol)
	default:
		return fmt.Sprintf("failed to unstake %s", e.opts.TokenSymbol)
	}
}

func (e *Engine) record(tx *PendingTransaction) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := e.journal.Record(ctx, entryOf(tx)); err != nil {
		e.logger.Warn("journal record failed", slog.String("tx_id", tx.ID.String()), slog.Any("error", err))
	}
}

func (e *Engine) update(tx *PendingTransaction) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := e.journal.Update(ctx, entryOf(tx)); err != nil {
		e.logger.Warn("journal update failed", slog.String("tx_id", tx.ID.String()), slog.Any("error", err))
	}
}

func entryOf(tx *PendingTransaction) journal.Entry {
	o := tx.Outcome()
	entry := journal.Entry{
		ID:          o.ID,
		Kind:        o.Kind,
		Account:     o.Account,
		Amount:      o.Amount,
		Hash:        o.Hash,
		State:       string(o.State),
		SubmittedAt: o.SubmittedAt,
		ResolvedAt:  o.ResolvedAt,
	}
	if o.Err != nil {
		entry.Error = o.Err.Error()
	}
	return entry
}
