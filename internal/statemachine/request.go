package statemachine

import (
	"errors"
	"fmt"

	"media-acquirer/internal/domain"
)

var (
	// ErrInvalidTransition is returned for (from, to) pairs outside the transition table.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrGuardRejected is returned when a transition's precondition is unmet.
	ErrGuardRejected = errors.New("transition rejected by guard")
)

// TransitionError describes a rejected transition. It matches either
// ErrInvalidTransition or ErrGuardRejected through errors.Is.
type TransitionError struct {
	From   domain.RequestStatus
	To     domain.RequestStatus
	Reason string
	kind   error
}

func (e *TransitionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s -> %s", e.kind, e.From, e.To)
	}
	return fmt.Sprintf("%s: %s -> %s: %s", e.kind, e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error { return e.kind }

// Context is the metadata guards evaluate. Build it with ContextFor and set
// the caller-supplied confirmations explicitly.
type Context struct {
	Kind              domain.ContentKind
	IsOngoing         bool
	SearchAttempts    int
	MaxSearchAttempts int
	CandidateSelected bool
	// DownloadComplete must be confirmed by the caller; the machine never infers it.
	DownloadComplete bool
	NeedsMoreContent bool
	ErrorMessage     string
}

// ContextFor captures the guard-relevant fields of a request.
func ContextFor(req *domain.Request) Context {
	return Context{
		Kind:              req.Kind,
		IsOngoing:         req.IsOngoing,
		SearchAttempts:    req.Search.Attempts,
		MaxSearchAttempts: req.Search.MaxAttempts,
		CandidateSelected: req.Found != nil,
	}
}

// Transition is a request to move a request from one status to another.
type Transition struct {
	RequestID int64
	From      domain.RequestStatus
	To        domain.RequestStatus
	Context   Context
	Reason    string
}

type ActionKind string

const (
	ActionIncrementAttempts  ActionKind = "increment_search_attempts"
	ActionStampLastSearch    ActionKind = "stamp_last_search"
	ActionScheduleNextSearch ActionKind = "schedule_next_search"
	ActionPersistCandidate   ActionKind = "persist_candidate"
	ActionCreateDownload     ActionKind = "create_download"
	ActionStampCompleted     ActionKind = "stamp_completed"
	ActionReleaseTempState   ActionKind = "release_temp_state"
	ActionStampFailure       ActionKind = "stamp_failure"
	ActionScheduleRetry      ActionKind = "schedule_retry"
	ActionCancelDownload     ActionKind = "cancel_download"
	ActionClearDownload      ActionKind = "clear_download"
	ActionStampCancelled     ActionKind = "stamp_cancelled"
	ActionStampExpired       ActionKind = "stamp_expired"
	ActionRearmSearch        ActionKind = "rearm_search"
	ActionClearProgress      ActionKind = "clear_progress"
	ActionClearFailure       ActionKind = "clear_failure"
	ActionClearCancelled     ActionKind = "clear_cancelled"
	ActionClearExpired       ActionKind = "clear_expired"
)

type Phase string

const (
	PhaseExit  Phase = "exit"
	PhaseEnter Phase = "enter"
)

// Action is a side effect the caller must execute for an accepted transition.
type Action struct {
	Kind  ActionKind
	Phase Phase
	State domain.RequestStatus
}

// Guard returns a non-empty reason when the transition must be rejected.
type Guard func(t Transition) string

type edge struct {
	from domain.RequestStatus
	to   domain.RequestStatus
}

// Machine is the request lifecycle state machine. It holds only immutable
// tables and is safe for concurrent use.
type Machine struct {
	transitions map[domain.RequestStatus][]domain.RequestStatus
	guards      map[edge]Guard
	onExit      map[domain.RequestStatus][]ActionKind
	onEnter     map[domain.RequestStatus][]ActionKind
}

func NewRequestMachine() *Machine {
	return &Machine{
		transitions: map[domain.RequestStatus][]domain.RequestStatus{
			domain.StatusPending:     {domain.StatusSearching, domain.StatusCancelled, domain.StatusExpired},
			domain.StatusSearching:   {domain.StatusFound, domain.StatusPending, domain.StatusCancelled, domain.StatusExpired},
			domain.StatusFound:       {domain.StatusDownloading, domain.StatusSearching, domain.StatusCancelled, domain.StatusExpired},
			domain.StatusDownloading: {domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled, domain.StatusPending},
			domain.StatusFailed:      {domain.StatusSearching, domain.StatusCancelled, domain.StatusExpired},
			domain.StatusCancelled:   {domain.StatusPending, domain.StatusSearching},
			domain.StatusExpired:     {domain.StatusSearching},
			domain.StatusCompleted:   {},
		},
		guards: map[edge]Guard{
			{domain.StatusPending, domain.StatusSearching}:     attemptsRemaining,
			{domain.StatusFailed, domain.StatusSearching}:      attemptsRemaining,
			{domain.StatusFound, domain.StatusDownloading}:     candidateSelected,
			{domain.StatusDownloading, domain.StatusCompleted}: downloadConfirmed,
			{domain.StatusDownloading, domain.StatusPending}:   ongoingNeedsContent,
		},
		onExit: map[domain.RequestStatus][]ActionKind{
			domain.StatusDownloading: {ActionClearProgress},
			domain.StatusFailed:      {ActionClearFailure},
			domain.StatusCancelled:   {ActionClearCancelled},
			domain.StatusExpired:     {ActionClearExpired},
		},
		onEnter: map[domain.RequestStatus][]ActionKind{
			domain.StatusPending:     {ActionClearDownload, ActionRearmSearch},
			domain.StatusSearching:   {ActionIncrementAttempts, ActionStampLastSearch, ActionScheduleNextSearch},
			domain.StatusFound:       {ActionPersistCandidate},
			domain.StatusDownloading: {ActionCreateDownload},
			domain.StatusCompleted:   {ActionStampCompleted, ActionReleaseTempState},
			domain.StatusFailed:      {ActionStampFailure, ActionScheduleRetry},
			domain.StatusCancelled:   {ActionCancelDownload, ActionClearDownload, ActionStampCancelled},
			domain.StatusExpired:     {ActionStampExpired},
		},
	}
}

// CanTransition reports whether to is reachable from from in one step,
// ignoring guards.
func (m *Machine) CanTransition(from, to domain.RequestStatus) bool {
	for _, candidate := range m.transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Targets lists the statuses reachable from from.
func (m *Machine) Targets(from domain.RequestStatus) []domain.RequestStatus {
	out := make([]domain.RequestStatus, len(m.transitions[from]))
	copy(out, m.transitions[from])
	return out
}

// Validate checks the transition table and the registered guard.
func (m *Machine) Validate(t Transition) error {
	if !m.CanTransition(t.From, t.To) {
		return &TransitionError{From: t.From, To: t.To, kind: ErrInvalidTransition}
	}
	if guard, ok := m.guards[edge{t.From, t.To}]; ok {
		if reason := guard(t); reason != "" {
			return &TransitionError{From: t.From, To: t.To, Reason: reason, kind: ErrGuardRejected}
		}
	}
	return nil
}

// Transition validates t and returns the exit actions of the current state
// followed by the enter actions of the target state.
func (m *Machine) Transition(t Transition) ([]Action, error) {
	if err := m.Validate(t); err != nil {
		return nil, err
	}

	actions := make([]Action, 0, len(m.onExit[t.From])+len(m.onEnter[t.To]))
	for _, kind := range m.onExit[t.From] {
		actions = append(actions, Action{Kind: kind, Phase: PhaseExit, State: t.From})
	}
	for _, kind := range m.onEnter[t.To] {
		actions = append(actions, Action{Kind: kind, Phase: PhaseEnter, State: t.To})
	}
	return actions, nil
}

func attemptsRemaining(t Transition) string {
	if t.Context.SearchAttempts >= t.Context.MaxSearchAttempts {
		return fmt.Sprintf("search attempts exhausted (%d/%d)", t.Context.SearchAttempts, t.Context.MaxSearchAttempts)
	}
	return ""
}

func candidateSelected(t Transition) string {
	if !t.Context.CandidateSelected {
		return "no candidate selected"
	}
	return ""
}

func downloadConfirmed(t Transition) string {
	if !t.Context.DownloadComplete {
		return "download completion not confirmed"
	}
	return ""
}

func ongoingNeedsContent(t Transition) string {
	switch {
	case t.Context.Kind != domain.KindTVShow:
		return "only tv requests return to pending after a download"
	case !t.Context.IsOngoing:
		return "show is not ongoing"
	case !t.Context.NeedsMoreContent:
		return "show does not need more content"
	}
	return ""
}
