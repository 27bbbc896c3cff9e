// Package chat implements Sortify's session engine: it owns the active
// conversation, applies user actions optimistically and keeps a durable
// store in sync with what the user sees.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/sortify/internal/models"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultReplyDelay matches the typing pause of the original assistant.
	DefaultReplyDelay   = 1500 * time.Millisecond
	DefaultStoreTimeout = 10 * time.Second
	DefaultWelcomeText  = "Hello! How can I help you today?"

	// fallbackReply stands in when a responder breaks its contract and
	// returns nothing.
	fallbackReply = "Sorry, I don't have an answer for that yet."
)

// Config holds engine settings.
type Config struct {
	// OwnerID identifies the user whose sessions are created and listed.
	OwnerID string
	// ReplyDelay is the simulated typing time before a reply appears.
	// Zero replies immediately.
	ReplyDelay time.Duration
	// TitleMax bounds derived session titles, in runes.
	TitleMax int
	// WelcomeText is the greeting seeded into an empty new chat.
	WelcomeText string
	// StoreTimeout bounds each store call made in the background.
	StoreTimeout time.Duration

	Sessions SessionListener
	Notifier Notifier
	// OnChange is called, without engine locks held, after every change
	// to what Snapshot would return.
	OnChange func()

	Now   func() time.Time
	NewID func() string
}

// Snapshot is a copy of the engine's visible state.
type Snapshot struct {
	// SessionKey identifies the active session in this process, durable or not.
	SessionKey string
	// SessionID is the durable ID, empty while the session is ephemeral.
	SessionID string
	Title     string
	State     State
	Pending   bool
	Loading   bool
	Messages  []Entry
}

// Durable reports whether the active session has a durable identity.
func (s Snapshot) Durable() bool {
	return s.SessionID != ""
}

// session is the engine's private record of one conversation.
type session struct {
	key      string
	id       string
	title    string
	state    State
	log      *Log
	loaded   bool
	loading  bool
	pending  int // replies being "typed"
	inflight int // turns not yet finished
	lane     *lane

	// ctx is canceled when the session is deleted, the engine closes, or
	// the session is superseded with no work left.
	ctx    context.Context
	cancel context.CancelFunc
}

// Engine is the session state manager. All state lives behind mu and is
// mutated only through Engine methods; mu is never held across a store
// call or the reply delay.
type Engine struct {
	gateway   Gateway
	responder Responder
	cfg       Config
	logger    *slog.Logger

	mu      sync.Mutex
	active  *session
	tracked map[*session]struct{}
	closed  bool

	loads singleflight.Group
	root  context.Context
	stop  context.CancelFunc
	turns sync.WaitGroup
}

// NewEngine creates an engine showing a fresh new chat.
func NewEngine(gateway Gateway, responder Responder, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TitleMax <= 0 {
		cfg.TitleMax = DefaultTitleMax
	}
	if cfg.WelcomeText == "" {
		cfg.WelcomeText = DefaultWelcomeText
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = newLocalID
	}

	root, stop := context.WithCancel(context.Background())
	e := &Engine{
		gateway:   gateway,
		responder: responder,
		cfg:       cfg,
		logger:    logger,
		tracked:   make(map[*session]struct{}),
		root:      root,
		stop:      stop,
	}

	e.mu.Lock()
	e.startNewLocked()
	e.mu.Unlock()

	return e
}

// newLocalID returns a time-ordered ID, unique within the process.
func newLocalID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// StartNewSession discards the active session and shows an empty
// ephemeral chat with the welcome greeting.
func (e *Engine) StartNewSession() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.startNewLocked()
	e.mu.Unlock()

	e.changed()
}

// SelectSession makes the durable session id active and loads its
// history, replacing whatever was shown. Selecting the already active,
// loaded session is a no-op. On failure the session stays selected with
// an empty log; calling SelectSession again retries.
func (e *Engine) SelectSession(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: "session id", Reason: "must not be empty"}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if cur := e.active; cur.id == id && (cur.loaded || cur.loading) && !cur.state.Terminal() {
		e.mu.Unlock()
		return nil
	}

	e.supersedeLocked(e.active)
	sess := e.newSessionLocked()
	sess.id = id
	sess.state = StateDurableActive
	sess.loading = true
	// Turns still running from an earlier visit keep their store order:
	// the load waits for their writes and their replies land in this log.
	earlier := e.inflightLocked(id, sess)
	if len(earlier) > 0 {
		sess.lane = earlier[0].lane
	}
	e.active = sess
	// Sends issued while the history loads queue behind it.
	load := sess.lane.reserve()
	e.mu.Unlock()

	defer load.release()
	e.changed()

	logger := e.logger.With("session_id", id)
	logger.Debug("loading session history", "waiting_turns", len(earlier))

	var (
		v      any
		shared bool
	)
	err := load.wait(ctx)
	if err == nil {
		v, err, shared = e.loads.Do(id, func() (any, error) {
			return e.gateway.ListMessages(ctx, id)
		})
	}

	e.mu.Lock()
	sess.loading = false
	if e.active != sess {
		e.mu.Unlock()
		logger.Debug("discarding history for superseded session", "error", err)
		return nil
	}
	if err != nil {
		e.mu.Unlock()
		err = storeError(OpLoadMessages, id, err)
		e.report(failureNotice(OpLoadMessages, id, err))
		e.changed()
		return err
	}

	msgs, _ := v.([]models.Message)
	sent := sess.log.Entries()
	sess.log.Replace(msgs, e.cfg.NewID)
	// Failed writes from the earlier visit never reached the store.
	var failed []Entry
	for _, s := range earlier {
		for _, entry := range s.log.Entries() {
			if entry.Status == StatusFailed {
				failed = append(failed, entry)
			}
		}
	}
	slices.SortStableFunc(failed, func(a, b Entry) int { return a.Timestamp.Compare(b.Timestamp) })
	for _, entry := range failed {
		sess.log.Append(entry)
	}
	for _, entry := range sent {
		sess.log.Append(entry)
	}
	if sess.log.Len() == 0 {
		sess.log.SeedWelcome(e.welcomeEntry())
	}
	sess.loaded = true
	e.mu.Unlock()

	logger.Info("session loaded", "messages", len(msgs), "shared_fetch", shared)
	e.changed()
	return nil
}

// SendMessage shows text as a user message right away and returns a Turn
// tracking the rest: creating the session if it is still ephemeral,
// storing the message, and producing and storing the reply. ctx only
// bounds the synchronous part; the turn itself ends with the session.
func (e *Engine) SendMessage(ctx context.Context, text string) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Field: "message", Reason: "must not be blank"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}

	sess := e.active
	sess.log.StripWelcome()
	switch sess.state {
	case StateEphemeralEmpty, StateEphemeralWithWelcome:
		e.setStateLocked(sess, StateEphemeralPendingCreate)
	case StateDurableActive:
		e.setStateLocked(sess, StateDurableActive)
	}

	entry := Entry{
		ID:        e.cfg.NewID(),
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: e.cfg.Now(),
		Status:    StatusPending,
	}
	sess.log.Append(entry)
	sess.inflight++
	userSlot := sess.lane.reserve()
	turn := newTurn(entry.ID)
	e.turns.Add(1)
	e.mu.Unlock()

	e.changed()
	go e.runTurn(sess, turn, text, userSlot)

	return turn, nil
}

// DeleteSession deletes the durable session id. If it is the active
// session, a new chat is started. Pending replies for it are canceled.
func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: "session id", Reason: "must not be empty"}
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := e.gateway.DeleteSession(ctx, id); err != nil {
		err = storeError(OpDeleteSession, id, err)
		e.report(failureNotice(OpDeleteSession, id, err))
		return err
	}

	e.mu.Lock()
	for s := range e.tracked {
		if s.id != id {
			continue
		}
		if CanTransition(s.state, StateDeleted) {
			e.setStateLocked(s, StateDeleted)
		}
		s.cancel()
		if s.inflight == 0 && s != e.active {
			delete(e.tracked, s)
		}
	}
	if e.active.id == id {
		e.startNewLocked()
	}
	e.mu.Unlock()

	e.logger.Info("session deleted", "session_id", id)
	if e.cfg.Sessions != nil {
		e.cfg.Sessions.SessionDeleted(id)
	}
	e.notify(Notice{Level: LevelInfo, Op: OpDeleteSession, SessionID: id, Message: "Chat deleted successfully"})
	e.changed()
	return nil
}

// Snapshot returns a copy of the active session's visible state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.active
	return Snapshot{
		SessionKey: s.key,
		SessionID:  s.id,
		Title:      s.title,
		State:      s.state,
		Pending:    s.pending > 0,
		Loading:    s.loading,
		Messages:   s.log.Entries(),
	}
}

// Pending reports whether a reply is being prepared for the active session.
func (e *Engine) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active.pending > 0
}

// Close cancels pending replies and waits for background work to stop.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.stop()
	e.turns.Wait()
	return nil
}

// runTurn performs the background steps of one SendMessage call.
func (e *Engine) runTurn(sess *session, turn *Turn, text string, userSlot slot) {
	defer e.turns.Done()
	defer e.finishTurn(sess, turn)

	id, err := e.persistUser(sess, turn, text, userSlot)
	if err != nil {
		turn.fail(err)
	}
	if id == "" {
		// Nothing durable to attach a reply to.
		return
	}
	turn.setSessionID(id)

	e.mu.Lock()
	sess.pending++
	e.mu.Unlock()
	e.changed()

	if err := e.delay(sess.ctx); err != nil {
		e.mu.Lock()
		sess.pending--
		e.mu.Unlock()
		e.changed()
		e.logger.Debug("reply canceled", "session_id", id, "error", err)
		return
	}

	reply := e.responder.Reply(text)
	if strings.TrimSpace(reply) == "" {
		e.logger.Warn("responder returned an empty reply", "session_id", id)
		reply = fallbackReply
	}
	entry := Entry{
		ID:        e.cfg.NewID(),
		Role:      models.RoleAssistant,
		Content:   reply,
		Timestamp: e.cfg.Now(),
		Status:    StatusPending,
	}

	e.mu.Lock()
	sess.pending--
	// Reserved under mu so a reload of this session either waits for the
	// reply's write or sees the reply in its log, never both.
	replySlot := sess.lane.reserve()
	if view := e.viewLocked(sess); view != nil {
		view.log.Append(entry)
	} else {
		e.logger.Debug("reply arrived after session switch, not shown", "session_id", id)
	}
	e.mu.Unlock()
	turn.setReplyID(entry.ID)
	e.changed()

	if err := e.persistAssistant(sess, id, entry, replySlot); err != nil {
		turn.fail(err)
	}
}

// persistUser makes sure the session is durable and stores the user
// message. It returns the durable session ID, or "" if none exists.
func (e *Engine) persistUser(sess *session, turn *Turn, text string, s slot) (string, error) {
	defer s.release()

	if err := s.wait(sess.ctx); err != nil {
		e.setStatus(sess, turn.MessageID, StatusFailed)
		return "", err
	}

	e.mu.Lock()
	id := sess.id
	e.mu.Unlock()

	if id == "" {
		created, err := e.createSession(sess, turn, text)
		if err != nil {
			return "", err
		}
		id = created
	}

	ctx, cancel := e.storeContext(sess)
	defer cancel()

	if err := e.gateway.AppendMessage(ctx, id, text, models.RoleUser); err != nil {
		err = storeError(OpAppendUser, id, err)
		e.setStatus(sess, turn.MessageID, StatusFailed)
		if sess.ctx.Err() == nil {
			e.report(failureNotice(OpAppendUser, id, err))
		}
		return id, err
	}

	e.setStatus(sess, turn.MessageID, StatusSynced)
	e.touched(id)
	return id, nil
}

// createSession creates the durable session for an ephemeral one.
func (e *Engine) createSession(sess *session, turn *Turn, text string) (string, error) {
	e.mu.Lock()
	if sess.state == StateEphemeralEmpty {
		e.setStateLocked(sess, StateEphemeralPendingCreate)
	}
	e.mu.Unlock()

	title := DeriveTitle(text, e.cfg.TitleMax)
	ctx, cancel := e.storeContext(sess)
	defer cancel()

	created, err := e.gateway.CreateSession(ctx, e.cfg.OwnerID, title)
	if err == nil && created.ID == "" {
		err = errors.New("store returned a session without an id")
	}

	e.mu.Lock()
	if err != nil {
		if sess.state == StateEphemeralPendingCreate {
			e.setStateLocked(sess, StateEphemeralEmpty)
		}
		sess.log.SetStatus(turn.MessageID, StatusFailed)
		e.mu.Unlock()

		err = storeError(OpCreateSession, "", err)
		if sess.ctx.Err() == nil {
			e.report(failureNotice(OpCreateSession, "", err))
		}
		e.changed()
		return "", err
	}

	sess.id = created.ID
	sess.title = created.Title
	sess.loaded = true
	if sess.state == StateEphemeralPendingCreate {
		e.setStateLocked(sess, StateDurableActive)
	}
	e.mu.Unlock()

	e.logger.Info("session created", "session_id", created.ID, "title", created.Title)
	if e.cfg.Sessions != nil {
		e.cfg.Sessions.SessionCreated(created)
	}
	e.changed()
	return created.ID, nil
}

// persistAssistant stores a reply. A failure leaves the reply visible.
func (e *Engine) persistAssistant(sess *session, id string, entry Entry, s slot) error {
	defer s.release()

	if err := s.wait(sess.ctx); err != nil {
		e.setStatus(sess, entry.ID, StatusFailed)
		return err
	}

	ctx, cancel := e.storeContext(sess)
	defer cancel()

	if err := e.gateway.AppendMessage(ctx, id, entry.Content, models.RoleAssistant); err != nil {
		err = storeError(OpAppendAssistant, id, err)
		e.setStatus(sess, entry.ID, StatusFailed)
		if sess.ctx.Err() == nil {
			e.report(failureNotice(OpAppendAssistant, id, err))
		}
		return err
	}

	e.setStatus(sess, entry.ID, StatusSynced)
	e.touched(id)
	return nil
}

func (e *Engine) finishTurn(sess *session, turn *Turn) {
	e.mu.Lock()
	sess.inflight--
	if sess.inflight == 0 && sess.state.Terminal() {
		e.releaseLocked(sess)
	}
	e.mu.Unlock()

	close(turn.done)
}

func (e *Engine) delay(ctx context.Context) error {
	if e.cfg.ReplyDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(e.cfg.ReplyDelay)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) storeContext(sess *session) (context.Context, context.CancelFunc) {
	return context.WithTimeout(sess.ctx, e.cfg.StoreTimeout)
}

func (e *Engine) setStatus(sess *session, entryID string, status Status) {
	e.mu.Lock()
	changed := sess.log.SetStatus(entryID, status)
	if view := e.viewLocked(sess); view != nil && view != sess {
		changed = view.log.SetStatus(entryID, status) || changed
	}
	e.mu.Unlock()

	if changed {
		e.changed()
	}
}

func (e *Engine) touched(id string) {
	if u, ok := e.cfg.Sessions.(SessionUpdater); ok {
		u.SessionUpdated(id, e.cfg.Now())
	}
}

func (e *Engine) welcomeEntry() Entry {
	return Entry{
		ID:        e.cfg.NewID(),
		Content:   e.cfg.WelcomeText,
		Timestamp: e.cfg.Now(),
	}
}

// newSessionLocked allocates a session and starts tracking it.
// Caller must hold mu.
func (e *Engine) newSessionLocked() *session {
	ctx, cancel := context.WithCancel(e.root)
	s := &session{
		key:    e.cfg.NewID(),
		state:  StateEphemeralEmpty,
		log:    newLog(),
		lane:   newLane(),
		ctx:    ctx,
		cancel: cancel,
	}
	e.tracked[s] = struct{}{}
	return s
}

// startNewLocked replaces the active session with a fresh ephemeral one.
// Caller must hold mu.
func (e *Engine) startNewLocked() {
	e.supersedeLocked(e.active)

	s := e.newSessionLocked()
	if s.log.SeedWelcome(e.welcomeEntry()) {
		e.setStateLocked(s, StateEphemeralWithWelcome)
	}
	e.active = s
}

// supersedeLocked retires s. Its in-flight turns keep running and still
// write to the store, but nothing they do is shown.
// Caller must hold mu.
func (e *Engine) supersedeLocked(s *session) {
	if s == nil {
		return
	}
	if !s.state.Terminal() {
		e.setStateLocked(s, StateSuperseded)
	}
	if s.inflight == 0 {
		e.releaseLocked(s)
	}
}

// viewLocked returns the session whose log shows sess's turns: sess while
// it is active, or a later reload of the same durable session. It returns
// nil once the user has moved elsewhere.
// Caller must hold mu.
func (e *Engine) viewLocked(sess *session) *session {
	switch {
	case e.active == sess:
		return sess
	case sess.id != "" && sess.state == StateSuperseded && e.active.id == sess.id:
		return e.active
	}
	return nil
}

// inflightLocked returns the superseded sessions for id that still have
// turns running, excluding skip.
// Caller must hold mu.
func (e *Engine) inflightLocked(id string, skip *session) []*session {
	var out []*session
	for s := range e.tracked {
		if s != skip && s.id == id && s.inflight > 0 && s.state == StateSuperseded {
			out = append(out, s)
		}
	}
	return out
}

// Caller must hold mu.
func (e *Engine) releaseLocked(s *session) {
	s.cancel()
	delete(e.tracked, s)
}

// Caller must hold mu.
func (e *Engine) setStateLocked(s *session, to State) {
	if !CanTransition(s.state, to) {
		e.logger.Warn("invalid session transition", "session_key", s.key, "from", s.state, "to", to)
		return
	}
	s.state = to
}

func (e *Engine) changed() {
	if e.cfg.OnChange != nil {
		e.cfg.OnChange()
	}
}

func (e *Engine) report(n Notice) {
	e.logger.Error(n.Message, "op", n.Op, "session_id", n.SessionID, "error", n.Err)
	if e.cfg.Notifier != nil {
		e.cfg.Notifier.Notify(n)
	}
}

func (e *Engine) notify(n Notice) {
	if e.cfg.Notifier != nil {
		e.cfg.Notifier.Notify(n)
	}
}
