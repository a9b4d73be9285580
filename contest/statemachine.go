// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package contest

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pesnobot/contestd/comms"
	"github.com/pesnobot/contestd/config"
	"github.com/pesnobot/contestd/events"
	"github.com/pesnobot/contestd/outbox"
	"github.com/pesnobot/contestd/quorum"
)

// WinnerNotifier tells the round winner they won. It is the one outbound
// call the state machine makes directly, because the answer matters: a
// comms.ErrRecipientBlocked reply means the winner cannot be reached and the
// cycle must fall back to a random task instead of waiting on them.
type WinnerNotifier interface {
	NotifyWinner(winner string, round uint32) error
}

// StateMachine advances the challenge cycle. It is the only writer of the
// SystemState record. Every operation takes the same mutex, so the
// read-state, decide-transition, write-state sequence is single-writer; the
// deadline scheduler and concurrent user actions can never race on the same
// transition decision.
type StateMachine struct {
	cfg    *config.Config
	db     Database
	bus    *events.Manager
	outbox *outbox.Outbox
	winner WinnerNotifier
	rnd    *rand.Rand

	mtx   sync.Mutex
	state SystemState

	// adminVotes holds the current inner-circle votes, keyed by admin
	// id. A repeat vote replaces. The map is reset every time the
	// InnerCircleVoting phase is entered; it intentionally does not
	// survive a restart since admins can simply vote again.
	adminVotes map[string]bool
}

// New returns a state machine resting on whatever state the database last
// committed, or standby at round one for a fresh database.
func New(cfg *config.Config, db Database, bus *events.Manager, ob *outbox.Outbox, wn WinnerNotifier, rnd *rand.Rand) (*StateMachine, error) {
	s := &StateMachine{
		cfg:        cfg,
		db:         db,
		bus:        bus,
		outbox:     ob,
		winner:     wn,
		rnd:        rnd,
		adminVotes: make(map[string]bool),
	}

	st, err := db.StateGet()
	switch {
	case errors.Is(err, ErrNotFound):
		st = &SystemState{
			Phase: PhaseStandby,
			Round: 1,
		}
		err = db.StatePut(*st)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}
	s.state = *st

	log.Infof("Contest state: %v, round %v", s.state.Phase, s.state.Round)

	return s, nil
}

// Status returns a copy of the current system state.
func (s *StateMachine) Status() SystemState {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.state
}

// setState persists the new state, then updates the in-memory copy. The
// persist failing leaves both the record and the copy at the last committed
// state.
func (s *StateMachine) setState(st SystemState) error {
	err := s.db.StatePut(st)
	if err != nil {
		return err
	}
	s.state = st
	return nil
}

// publish mirrors the payload to the outbox when requested, then emits it on
// the bus. Callers must have already committed the state this payload
// describes, so an observer re-reading state from an event handler always
// sees the new phase.
func (s *StateMachine) publish(kind string, payload interface{}, mirror bool) {
	if mirror {
		_, err := s.outbox.Enqueue(kind, payload)
		if err != nil {
			// The transition is already committed; a full outbox
			// failure costs the external mirror one event, not
			// the cycle.
			log.Errorf("outbox enqueue %v: %v", kind, err)
		}
	}
	s.bus.Emit(kind, payload)
}

// Kickstart starts a round from standby with the provided task.
func (s *StateMachine) Kickstart(task TaskDescriptor) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.state.Phase != PhaseStandby {
		return ErrWrongPhase
	}

	deadline := time.Now().UTC().Add(s.cfg.ContestDuration)
	st := s.state
	st.Phase = PhaseContest
	st.Deadline = &deadline
	st.TaskDeadline = nil
	st.Task = task
	st.Winner = ""
	err := s.setState(st)
	if err != nil {
		return err
	}

	log.Infof("Round %v started: %q", st.Round, task.Text)

	s.publish(EventTypeRoundStarted, EventRoundStarted{
		Round:    st.Round,
		Task:     st.Task,
		Deadline: deadline,
	}, true)

	return nil
}

// SubmitEntry accepts a contest submission. A repeat submission from the
// same author replaces their previous one and earns no second reward.
func (s *StateMachine) SubmitEntry(author, text string) (*Entry, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.state.Phase != PhaseContest {
		return nil, ErrWrongPhase
	}

	existing, err := s.db.EntriesByRound(s.state.Round, EntryKindSubmission)
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		if e.Author == author {
			e.Text = text
			err = s.db.EntryUpdate(e)
			if err != nil {
				return nil, err
			}
			return &e, nil
		}
	}

	e := Entry{
		ID:     uuid.New().String(),
		Kind:   EntryKindSubmission,
		Author: author,
		Round:  s.state.Round,
		Text:   text,
	}
	err = s.db.EntryNew(e)
	if err != nil {
		return nil, err
	}
	err = s.creditWallet(author, s.cfg.SubmissionReward)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// SubmitSuggestion accepts a task suggestion during a suggestion poll. A
// user may suggest more than once; only the first suggestion of the round is
// rewarded.
func (s *StateMachine) SubmitSuggestion(author, text string) (*Entry, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.state.Phase != PhaseTaskSuggestionCollection {
		return nil, ErrWrongPhase
	}

	existing, err := s.db.EntriesByRound(s.state.Round, EntryKindSuggestion)
	if err != nil {
		return nil, err
	}
	var hasPrior bool
	for _, e := range existing {
		if e.Author == author {
			hasPrior = true
			break
		}
	}

	e := Entry{
		ID:     uuid.New().String(),
		Kind:   EntryKindSuggestion,
		Author: author,
		Round:  s.state.Round,
		Text:   text,
	}
	err = s.db.EntryNew(e)
	if err != nil {
		return nil, err
	}
	if !hasPrior {
		err = s.creditWallet(author, s.cfg.SuggestionReward)
		if err != nil {
			return nil, err
		}
	}
	return &e, nil
}

// CastVote records a ballot against a votable entry. A repeat vote from the
// same voter replaces the previous ballot; the vote reward is credited only
// for the first ballot on an entry.
func (s *StateMachine) CastVote(voter, entryID string, value int64) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	e, err := s.db.EntryGet(entryID)
	if err != nil {
		return err
	}

	var (
		wantPhase Phase
		min, max  int64
	)
	switch e.Kind {
	case EntryKindSubmission:
		wantPhase = PhaseVoting
		min, max = s.cfg.ContestVoteMin, s.cfg.ContestVoteMax
	case EntryKindSuggestion:
		wantPhase = PhaseTaskSuggestionVoting
		min, max = s.cfg.SuggestionVoteMin, s.cfg.SuggestionVoteMax
	default:
		return ErrCorruptRecord
	}

	switch {
	case s.state.Phase != wantPhase || e.Round != s.state.Round:
		return ErrWrongPhase
	case e.VoteTotal != nil:
		return ErrEntryFrozen
	case e.Author == voter:
		return ErrSelfVote
	case value < min || value > max:
		return ErrValueOutOfRange
	}

	replaced, err := s.db.BallotUpsert(Ballot{
		Voter:     voter,
		EntryID:   entryID,
		Value:     value,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	if !replaced {
		err = s.creditWallet(voter, s.cfg.VoteReward)
		if err != nil {
			return err
		}
	}
	return nil
}

// RequestPostpone opens a deadline-extension request. The request is
// rejected synchronously, with nothing written, when the phase has no active
// deadline, the requester already has an open request, or their balance does
// not cover the configured cost. Once a quorum of distinct requesters is
// open, the deadline is extended exactly once, every open request is closed
// satisfied, and every requester is debited exactly once. A request arriving
// after quorum was already satisfied opens the next quorum window.
func (s *StateMachine) RequestPostpone(requester string, extension time.Duration) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if !s.state.Phase.TimeBound() || s.state.Deadline == nil {
		return ErrWrongPhase
	}

	open, err := s.db.PostponesByRound(s.state.Round, PostponeOpen)
	if err != nil {
		return err
	}
	for _, r := range open {
		if r.Requester == requester {
			return ErrDuplicatePostpone
		}
	}

	w, err := s.db.WalletGet(requester)
	if err != nil {
		return err
	}
	if w.Balance < s.cfg.PostponeCost {
		s.publish(EventTypePostponeRejected, EventPostponeRejected{
			Round:     s.state.Round,
			Requester: requester,
			Reason:    "insufficient balance",
		}, false)
		return ErrInsufficientFunds
	}

	req := PostponeRequest{
		ID:        uuid.New().String(),
		Requester: requester,
		Round:     s.state.Round,
		Extension: extension,
		State:     PostponeOpen,
		Cost:      s.cfg.PostponeCost,
	}
	err = s.db.PostponeNew(req)
	if err != nil {
		return err
	}
	open = append(open, req)

	if !quorum.Satisfied(len(open), s.cfg.PostponeQuorum) {
		log.Debugf("Postpone %v/%v for round %v", len(open),
			s.cfg.PostponeQuorum, s.state.Round)
		return nil
	}

	// Quorum reached. Extend by the largest requested extension.
	var maxExt time.Duration
	requesters := make([]string, 0, len(open))
	for _, r := range open {
		if r.Extension > maxExt {
			maxExt = r.Extension
		}
		requesters = append(requesters, r.Requester)
	}

	// The extension commits first; it is the one effect that must happen
	// exactly once. Each request is then closed before its requester is
	// debited, so a still-open request is always an uncharged one and a
	// failure part way through never double-debits anyone.
	deadline := s.state.Deadline.Add(maxExt)
	st := s.state
	st.Deadline = &deadline
	err = s.setState(st)
	if err != nil {
		return err
	}

	for _, r := range open {
		r.State = PostponeClosedSatisfied
		err := s.db.PostponeUpdate(r)
		if err != nil {
			// Left open and uncharged; the phase-end sweep
			// discards it.
			log.Errorf("close postpone %v: %v", r.ID, err)
			continue
		}
		err = s.debitWallet(r.Requester, r.Cost)
		if err != nil {
			log.Errorf("debit postpone %v from %v: %v", r.ID,
				r.Requester, err)
		}
	}

	log.Infof("Deadline extended to %v by quorum of %v", deadline,
		len(requesters))

	s.publish(EventTypeDeadlineExtended, EventDeadlineExtended{
		Round:      st.Round,
		Phase:      st.Phase,
		Deadline:   deadline,
		Requesters: requesters,
	}, true)

	return nil
}

// SubmitTask is the winner proposing the next round's task.
func (s *StateMachine) SubmitTask(author, text string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.state.Phase != PhaseChoosingNextTask {
		return ErrWrongPhase
	}
	if author != s.state.Winner {
		return ErrNotWinner
	}
	return s.proposeTask(TaskDescriptor{
		Kind: TaskKindManual,
		Text: text,
	})
}

// ChooseRandomTask is the winner opting for a random task from the template
// pool.
func (s *StateMachine) ChooseRandomTask(author string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.state.Phase != PhaseChoosingNextTask {
		return ErrWrongPhase
	}
	if author != s.state.Winner {
		return ErrNotWinner
	}
	return s.proposeTask(TaskDescriptor{
		Kind: TaskKindRandom,
		Text: s.randomTask(),
	})
}

// OpenTaskPoll starts a task suggestion poll. The winner may open one
// instead of writing a task; from standby an inner-circle admin may open one
// to get a stalled cycle moving again.
func (s *StateMachine) OpenTaskPoll(actor string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	switch s.state.Phase {
	case PhaseChoosingNextTask:
		if actor != s.state.Winner {
			return ErrNotWinner
		}
	case PhaseStandby:
		if !s.isAdmin(actor) {
			return ErrNotAdmin
		}
	default:
		return ErrWrongPhase
	}

	deadline := time.Now().UTC().Add(s.cfg.SuggestionCollect)
	st := s.state
	st.Phase = PhaseTaskSuggestionCollection
	st.Deadline = &deadline
	st.TaskDeadline = nil
	err := s.setState(st)
	if err != nil {
		return err
	}

	log.Infof("Task suggestion poll opened for round %v", st.Round)

	s.publish(EventTypeTaskPollStarted, EventTaskPollStarted{
		Round:    st.Round,
		Deadline: deadline,
	}, true)

	return nil
}

// InnerCircleVote records an inner-circle admin's verdict on the proposed
// task. A repeat vote replaces the admin's previous one. A quorum of
// distinct approving admins starts the next round; a quorum of declines
// sends the cycle back to task selection for a revision.
func (s *StateMachine) InnerCircleVote(admin string, approve bool) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.state.Phase != PhaseInnerCircleVoting {
		return ErrWrongPhase
	}
	if !s.isAdmin(admin) {
		return ErrNotAdmin
	}

	s.adminVotes[admin] = approve

	var approvals, declines int
	for _, v := range s.adminVotes {
		if v {
			approvals++
		} else {
			declines++
		}
	}

	log.Debugf("Inner circle %v/%v approve, %v/%v decline", approvals,
		s.cfg.AdminQuorum, declines, s.cfg.AdminQuorum)

	switch {
	case quorum.Satisfied(approvals, s.cfg.AdminQuorum):
		return s.approveTask()
	case quorum.Satisfied(declines, s.cfg.AdminQuorum):
		return s.declineTask()
	}
	return nil
}

// approveTask starts the next round with the approved task. Caller must
// hold the mutex.
func (s *StateMachine) approveTask() error {
	deadline := time.Now().UTC().Add(s.cfg.ContestDuration)
	st := s.state
	st.Round++
	st.Phase = PhaseContest
	st.Deadline = &deadline
	st.TaskDeadline = nil
	st.Winner = ""
	err := s.setState(st)
	if err != nil {
		return err
	}
	s.adminVotes = make(map[string]bool)

	log.Infof("Task approved, round %v started", st.Round)

	s.publish(EventTypeTaskApproved, EventTaskApproved{
		Round: st.Round,
		Task:  st.Task,
	}, true)
	s.publish(EventTypeRoundStarted, EventRoundStarted{
		Round:    st.Round,
		Task:     st.Task,
		Deadline: deadline,
	}, true)

	return nil
}

// declineTask sends the cycle back to task selection. Caller must hold the
// mutex.
func (s *StateMachine) declineTask() error {
	taskDeadline := time.Now().UTC().Add(s.cfg.TaskSelectionDuration)
	st := s.state
	st.Phase = PhaseChoosingNextTask
	st.Deadline = nil
	st.TaskDeadline = &taskDeadline
	err := s.setState(st)
	if err != nil {
		return err
	}
	s.adminVotes = make(map[string]bool)

	log.Infof("Task declined, revision requested from %v", st.Winner)

	s.publish(EventTypeTaskDeclined, EventTaskDeclined{
		Round:  st.Round,
		Task:   st.Task,
		Winner: st.Winner,
	}, true)

	return nil
}

// proposeTask commits the task and puts it in front of the inner circle.
// Caller must hold the mutex.
func (s *StateMachine) proposeTask(task TaskDescriptor) error {
	st := s.state
	st.Phase = PhaseInnerCircleVoting
	st.Task = task
	st.Deadline = nil
	st.TaskDeadline = nil
	err := s.setState(st)
	if err != nil {
		return err
	}
	s.adminVotes = make(map[string]bool)

	log.Infof("Task proposed for round %v: %q", st.Round, task.Text)

	s.publish(EventTypeTaskProposed, EventTaskProposed{
		Round: st.Round,
		Task:  st.Task,
	}, true)

	return nil
}

// CheckDeadline is the scheduler's entry point: it runs the deadline-elapsed
// branch of whatever phase is active if its deadline has passed, and is a
// fast no-op otherwise.
func (s *StateMachine) CheckDeadline(now time.Time) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.checkDeadline(now)
}

// ForceDeadline runs the deadline-elapsed branch of the currently active
// time-bound state immediately, through the exact same code path as natural
// expiry. ErrWrongPhase is returned when nothing is armed.
func (s *StateMachine) ForceDeadline() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var deadline *time.Time
	switch {
	case s.state.Deadline != nil:
		deadline = s.state.Deadline
	case s.state.TaskDeadline != nil:
		deadline = s.state.TaskDeadline
	default:
		return ErrWrongPhase
	}

	log.Infof("Fast-forwarding %v deadline", s.state.Phase)

	return s.checkDeadline(*deadline)
}

// checkDeadline drives the transition table. Caller must hold the mutex.
func (s *StateMachine) checkDeadline(now time.Time) error {
	elapsed := func(d *time.Time) bool {
		return d != nil && !now.Before(*d)
	}

	switch s.state.Phase {
	case PhaseContest:
		if elapsed(s.state.Deadline) {
			return s.endContest(now)
		}
	case PhaseVoting:
		if elapsed(s.state.Deadline) {
			return s.endVoting(now)
		}
	case PhaseTaskSuggestionCollection:
		if elapsed(s.state.Deadline) {
			return s.endCollection(now)
		}
	case PhaseTaskSuggestionVoting:
		if elapsed(s.state.Deadline) {
			return s.endSuggestionVoting(now)
		}
	case PhaseChoosingNextTask:
		if elapsed(s.state.TaskDeadline) {
			// The winner ran out the clock. Random fallback.
			log.Infof("Task selection expired, drawing random task")
			return s.proposeTask(TaskDescriptor{
				Kind: TaskKindRandom,
				Text: s.randomTask(),
			})
		}
	}
	return nil
}

// endContest closes submissions: enough entries opens voting, too few parks
// the cycle in standby. Caller must hold the mutex.
func (s *StateMachine) endContest(now time.Time) error {
	entries, err := s.db.EntriesByRound(s.state.Round, EntryKindSubmission)
	if err != nil {
		return err
	}
	err = s.discardOpenPostpones()
	if err != nil {
		return err
	}

	if len(entries) < s.cfg.MinEntries {
		log.Infof("Round %v: %v of %v required entries, standing by",
			s.state.Round, len(entries), s.cfg.MinEntries)
		err = s.toStandby()
		if err != nil {
			return err
		}
		s.publish(EventTypeNotEnoughEntries, EventNotEnoughEntries{
			Round:    s.state.Round,
			Kind:     EntryKindSubmission,
			Got:      len(entries),
			Required: s.cfg.MinEntries,
		}, true)
		return nil
	}

	deadline := now.UTC().Add(s.cfg.VotingDuration)
	st := s.state
	st.Phase = PhaseVoting
	st.Deadline = &deadline
	err = s.setState(st)
	if err != nil {
		return err
	}

	log.Infof("Round %v voting opened, %v entries", st.Round, len(entries))

	s.publish(EventTypeVotingStarted, EventVotingStarted{
		Round:    st.Round,
		Deadline: deadline,
		Entries:  len(entries),
	}, true)

	return nil
}

// endVoting closes contest voting: enough distinct voters finalizes the
// round, too few parks the cycle in standby. Caller must hold the mutex.
func (s *StateMachine) endVoting(now time.Time) error {
	entries, err := s.db.EntriesByRound(s.state.Round, EntryKindSubmission)
	if err != nil {
		return err
	}
	ballots, voters, err := s.roundBallots(entries)
	if err != nil {
		return err
	}
	err = s.discardOpenPostpones()
	if err != nil {
		return err
	}

	if voters < s.cfg.MinVoters {
		log.Infof("Round %v: %v of %v required voters, standing by",
			s.state.Round, voters, s.cfg.MinVoters)
		err = s.toStandby()
		if err != nil {
			return err
		}
		s.publish(EventTypeNotEnoughVotes, EventNotEnoughVotes{
			Round:    s.state.Round,
			Kind:     EntryKindSubmission,
			Got:      voters,
			Required: s.cfg.MinVoters,
		}, true)
		return nil
	}

	return s.finalizeVoting(now, entries, ballots)
}

// finalizeVoting consolidates ballots, freezes entry totals, computes the
// winner, and moves the cycle to task selection. An unreachable winner flips
// the task to the random pool instead of deadlocking the cycle. Caller must
// hold the mutex.
func (s *StateMachine) finalizeVoting(now time.Time, entries []Entry, ballots []Ballot) error {
	st := s.state
	st.Phase = PhaseFinalizingVoting
	st.Deadline = nil
	err := s.setState(st)
	if err != nil {
		return err
	}

	totals, err := s.freezeTotals(entries, ballots)
	if err != nil {
		return err
	}

	winners := quorum.Winners(totals)
	tie := len(winners) > 1
	winnerID := quorum.TieBreak(winners, s.rnd)
	if winnerID == "" {
		// Min-voter quorum was satisfied, so ballots exist and the
		// totals cannot be empty.
		return ErrCorruptRecord
	}
	we, err := s.db.EntryGet(winnerID)
	if err != nil {
		return err
	}

	st = s.state
	st.Winner = we.Author

	log.Infof("Round %v winner: %v (total %v, tie %v)", st.Round,
		we.Author, totals[winnerID], tie)

	// Tell the winner. A blocked or deleted winner cannot pick the next
	// task, so that answer reroutes the cycle through the random-task
	// path instead of arming a deadline nobody can meet.
	nerr := s.winner.NotifyWinner(we.Author, st.Round)
	if errors.Is(nerr, comms.ErrRecipientBlocked) {
		log.Warnf("Winner %v unreachable, falling back to random task",
			we.Author)
		err = s.setState(st)
		if err != nil {
			return err
		}
		s.publish(EventTypeWinnerChosen, EventWinnerChosen{
			Round:     st.Round,
			EntryID:   winnerID,
			Winner:    we.Author,
			Total:     totals[winnerID],
			TieBroken: tie,
		}, true)
		s.publish(EventTypeNotifyFailed, EventNotifyFailed{
			Round:     st.Round,
			Recipient: we.Author,
			Reason:    nerr.Error(),
		}, false)
		return s.proposeTask(TaskDescriptor{
			Kind: TaskKindRandom,
			Text: s.randomTask(),
		})
	}
	if nerr != nil {
		// A transient transport failure is not winner-unavailable;
		// the selection deadline still applies.
		log.Errorf("notify winner %v: %v", we.Author, nerr)
	}

	taskDeadline := now.UTC().Add(s.cfg.TaskSelectionDuration)
	st.Phase = PhaseChoosingNextTask
	st.TaskDeadline = &taskDeadline
	err = s.setState(st)
	if err != nil {
		return err
	}

	s.publish(EventTypeWinnerChosen, EventWinnerChosen{
		Round:     st.Round,
		EntryID:   winnerID,
		Winner:    we.Author,
		Total:     totals[winnerID],
		TieBroken: tie,
	}, true)

	return nil
}

// endCollection closes suggestion collection. Caller must hold the mutex.
func (s *StateMachine) endCollection(now time.Time) error {
	suggestions, err := s.db.EntriesByRound(s.state.Round,
		EntryKindSuggestion)
	if err != nil {
		return err
	}
	err = s.discardOpenPostpones()
	if err != nil {
		return err
	}

	if len(suggestions) < s.cfg.MinEntries {
		log.Infof("Round %v: %v of %v required suggestions, standing by",
			s.state.Round, len(suggestions), s.cfg.MinEntries)
		err = s.toStandby()
		if err != nil {
			return err
		}
		s.publish(EventTypeNotEnoughEntries, EventNotEnoughEntries{
			Round:    s.state.Round,
			Kind:     EntryKindSuggestion,
			Got:      len(suggestions),
			Required: s.cfg.MinEntries,
		}, true)
		return nil
	}

	deadline := now.UTC().Add(s.cfg.SuggestionVoting)
	st := s.state
	st.Phase = PhaseTaskSuggestionVoting
	st.Deadline = &deadline
	err = s.setState(st)
	if err != nil {
		return err
	}

	log.Infof("Round %v suggestion voting opened, %v suggestions",
		st.Round, len(suggestions))

	s.publish(EventTypeTaskPollVoting, EventTaskPollVoting{
		Round:       st.Round,
		Deadline:    deadline,
		Suggestions: len(suggestions),
	}, true)

	return nil
}

// endSuggestionVoting closes the suggestion poll. Caller must hold the
// mutex.
func (s *StateMachine) endSuggestionVoting(now time.Time) error {
	suggestions, err := s.db.EntriesByRound(s.state.Round,
		EntryKindSuggestion)
	if err != nil {
		return err
	}
	ballots, voters, err := s.roundBallots(suggestions)
	if err != nil {
		return err
	}
	err = s.discardOpenPostpones()
	if err != nil {
		return err
	}

	if voters < s.cfg.MinVoters {
		log.Infof("Round %v poll: %v of %v required voters, standing by",
			s.state.Round, voters, s.cfg.MinVoters)
		err = s.toStandby()
		if err != nil {
			return err
		}
		s.publish(EventTypeNotEnoughVotes, EventNotEnoughVotes{
			Round:    s.state.Round,
			Kind:     EntryKindSuggestion,
			Got:      voters,
			Required: s.cfg.MinVoters,
		}, true)
		return nil
	}

	// Finalize the poll: the winning suggestion becomes the proposed
	// task and goes in front of the inner circle.
	st := s.state
	st.Phase = PhaseFinalizingTaskPoll
	st.Deadline = nil
	err = s.setState(st)
	if err != nil {
		return err
	}

	totals, err := s.freezeTotals(suggestions, ballots)
	if err != nil {
		return err
	}
	winnerID := quorum.TieBreak(quorum.Winners(totals), s.rnd)
	if winnerID == "" {
		return ErrCorruptRecord
	}
	we, err := s.db.EntryGet(winnerID)
	if err != nil {
		return err
	}

	task := TaskDescriptor{
		Kind: TaskKindPoll,
		Text: we.Text,
	}

	log.Infof("Round %v poll decided: %q", st.Round, task.Text)

	s.publish(EventTypeTaskPollDecided, EventTaskPollDecided{
		Round:   st.Round,
		EntryID: winnerID,
		Task:    task,
	}, true)

	return s.proposeTask(task)
}

// freezeTotals consolidates the ballots and writes the frozen totals back
// onto every entry, including zeroes for unballoted entries. Further ballots
// can no longer change the outcome. Caller must hold the mutex.
func (s *StateMachine) freezeTotals(entries []Entry, ballots []Ballot) (map[string]int64, error) {
	votes := make([]quorum.Vote, 0, len(ballots))
	for _, b := range ballots {
		votes = append(votes, quorum.Vote{
			Entry: b.EntryID,
			Value: b.Value,
		})
	}
	totals := quorum.Consolidate(votes)

	for _, e := range entries {
		total := totals[e.ID]
		totals[e.ID] = total
		e.VoteTotal = &total
		err := s.db.EntryUpdate(e)
		if err != nil {
			return nil, err
		}
	}
	return totals, nil
}

// roundBallots fetches all current ballots on the provided entries and
// counts distinct voters.
func (s *StateMachine) roundBallots(entries []Entry) ([]Ballot, int, error) {
	var (
		ballots []Ballot
		voters  = make(map[string]struct{})
	)
	for _, e := range entries {
		bs, err := s.db.BallotsByEntry(e.ID)
		if err != nil {
			return nil, 0, err
		}
		for _, b := range bs {
			voters[b.Voter] = struct{}{}
		}
		ballots = append(ballots, bs...)
	}
	return ballots, len(voters), nil
}

// discardOpenPostpones closes every open postpone request for the current
// round without debiting anyone. Runs when a phase ends before a postpone
// quorum formed. Caller must hold the mutex.
func (s *StateMachine) discardOpenPostpones() error {
	open, err := s.db.PostponesByRound(s.state.Round, PostponeOpen)
	if err != nil {
		return err
	}
	for _, r := range open {
		r.State = PostponeClosedDiscarded
		err = s.db.PostponeUpdate(r)
		if err != nil {
			return err
		}
	}
	return nil
}

// toStandby parks the cycle. Caller must hold the mutex.
func (s *StateMachine) toStandby() error {
	st := s.state
	st.Phase = PhaseStandby
	st.Deadline = nil
	st.TaskDeadline = nil
	return s.setState(st)
}

// TrackMessage records an outstanding notification message so it can be
// cleaned up on the next transition.
func (s *StateMachine) TrackMessage(ref comms.MessageRef) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	st := s.state
	st.Messages = append(append([]comms.MessageRef{}, st.Messages...), ref)
	return s.setState(st)
}

// TakeMessages returns the outstanding notification messages and clears the
// list.
func (s *StateMachine) TakeMessages() ([]comms.MessageRef, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	refs := s.state.Messages
	if len(refs) == 0 {
		return nil, nil
	}
	st := s.state
	st.Messages = nil
	err := s.setState(st)
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func (s *StateMachine) randomTask() string {
	return s.cfg.RandomTasks[s.rnd.Intn(len(s.cfg.RandomTasks))]
}

func (s *StateMachine) isAdmin(user string) bool {
	for _, a := range s.cfg.InnerCircle {
		if a == user {
			return true
		}
	}
	return false
}
