// Package session implements the client side of a MoQ Transport session:
// dialing a relay over raw QUIC, exchanging CLIENT_SETUP/SERVER_SETUP,
// discovering broadcasts via ANNOUNCE, and subscribing to their tracks.
//
// A pure client never opens a WebTransport/HTTP3 layer: it dials QUIC
// directly with ALPN "moq-00" and runs the control stream and one
// unidirectional data stream per subgroup on top of that connection.
package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/moqview/moq"
	"github.com/zsiec/moqview/moqerr"
)

// Status reports the lifecycle state of a Session.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

const alpn = "moq-00"

// subscribeResult carries either a SUBSCRIBE_OK or a SUBSCRIBE_ERROR back
// to the goroutine that issued the SUBSCRIBE.
type subscribeResult struct {
	ok      moq.SubscribeOK
	failure *moq.SubscribeError
}

// Session is one MoQ Transport connection to a relay. All exported methods
// are safe for concurrent use.
type Session struct {
	id      string
	log     *slog.Logger
	conn    quic.Connection
	control quic.Stream

	controlMu sync.Mutex

	nextRequestID atomic.Uint64

	mu               sync.Mutex
	pendingSubscribe map[uint64]chan subscribeResult
	tracksByAlias    map[uint64]*Track
	announced        map[string]bool // namespace joined by "/" -> currently announced
	watchers         []*AnnouncedIter

	statusMu sync.Mutex
	status   Status
	statusCh chan Status

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Options configures Connect. The zero value dials with full TLS
// verification, treating an "http" URL scheme as the only implicit
// opt-out.
type Options struct {
	// InsecureTLS skips certificate verification even for an "https"
	// URL, for relays presenting a self-signed certificate in
	// development.
	InsecureTLS bool
}

// Connect dials a MoQ relay at rawURL ("https://host:port/path" or, for
// local development only, "http://host:port/path") and performs the
// CLIENT_SETUP/SERVER_SETUP handshake. The URL's path becomes the CLIENT_SETUP
// Path parameter.
func Connect(ctx context.Context, rawURL string, opts ...Options) (*Session, error) {
	var opt Options
	if len(opts) > 0 {
		opt = opts[0]
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("session: invalid url %q: %w", rawURL, err)
	}

	tlsConf := &tls.Config{NextProtos: []string{alpn}}
	if u.Scheme == "http" || opt.InsecureTLS {
		slog.Warn("connecting without TLS verification, dev use only", "url", rawURL)
		tlsConf.InsecureSkipVerify = true
	}

	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "443")
	}

	quicConf := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConf)
	if err != nil {
		return nil, moqerr.Wrap(moqerr.TransportFailed, "dialing relay", err)
	}

	control, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "control stream open failed")
		return nil, moqerr.Wrap(moqerr.TransportFailed, "opening control stream", err)
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	s := &Session{
		id:               id,
		log:              slog.Default().With("component", "session", "addr", addr, "session_id", id),
		conn:             conn,
		control:          control,
		pendingSubscribe: make(map[uint64]chan subscribeResult),
		tracksByAlias:    make(map[uint64]*Track),
		announced:        make(map[string]bool),
		status:           StatusConnecting,
		statusCh:         make(chan Status, 8),
		ctx:              sessionCtx,
		cancel:           cancel,
	}

	if err := s.handshake(ctx, u.Path); err != nil {
		cancel()
		conn.CloseWithError(1, "setup failed")
		return nil, err
	}

	s.setStatus(StatusConnected)

	g, gctx := errgroup.WithContext(sessionCtx)
	s.group = g
	g.Go(func() error { return s.readControlLoop(gctx) })
	g.Go(func() error { return s.acceptDataStreamsLoop(gctx) })
	go func() {
		err := g.Wait()
		s.log.Info("session ended", "error", err)
		s.setStatus(StatusDisconnected)
		close(s.statusCh)
	}()

	return s, nil
}

func (s *Session) handshake(ctx context.Context, path string) error {
	cs := moq.ClientSetup{
		Versions:     []uint64{moq.Version},
		Path:         path,
		HasPath:      path != "",
		MaxRequestID: 1 << 16,
	}
	if err := s.writeControl(moq.MsgClientSetup, moq.SerializeClientSetup(cs)); err != nil {
		return moqerr.Wrap(moqerr.TransportFailed, "sending client setup", err)
	}

	msgType, payload, err := moq.ReadControlMsg(s.control)
	if err != nil {
		return moqerr.Wrap(moqerr.TransportFailed, "reading server setup", err)
	}
	if msgType != moq.MsgServerSetup {
		return moqerr.New(moqerr.TransportFailed, fmt.Sprintf("expected SERVER_SETUP, got message type %#x", msgType))
	}
	ss, err := moq.ParseServerSetup(payload)
	if err != nil {
		return moqerr.Wrap(moqerr.TransportFailed, "parsing server setup", err)
	}
	if ss.SelectedVersion != moq.Version {
		return moqerr.New(moqerr.TransportFailed, fmt.Sprintf("relay selected unsupported version %#x", ss.SelectedVersion))
	}

	s.log.Info("handshake complete", "version", ss.SelectedVersion)
	return nil
}

func (s *Session) writeControl(msgType uint64, payload []byte) error {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	return moq.WriteControlMsg(s.control, msgType, payload)
}

// ID returns the session's unique correlation identifier, generated at
// Connect time, useful for tying log lines and metrics together across a
// single connection's lifetime.
func (s *Session) ID() string {
	return s.id
}

// Status returns the session's current lifecycle state.
func (s *Session) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// StatusUpdates returns a channel that receives every status transition.
// The channel is closed when the session is closed.
func (s *Session) StatusUpdates() <-chan Status {
	return s.statusCh
}

func (s *Session) setStatus(status Status) {
	s.statusMu.Lock()
	s.status = status
	s.statusMu.Unlock()
	select {
	case s.statusCh <- status:
	default:
	}
}

// Consume returns a Broadcast bound to the given path, without doing any
// network I/O. Subscribing to a track of the broadcast is what actually
// issues a SUBSCRIBE.
func (s *Session) Consume(path Path) *Broadcast {
	return &Broadcast{session: s, path: path}
}

// Close tears down the session: it cancels the background read loops and
// closes the underlying QUIC connection. Idempotent.
func (s *Session) Close() error {
	s.cancel()
	err := s.conn.CloseWithError(0, "closed by client")
	if s.group != nil {
		_ = s.group.Wait()
	}
	return err
}

func (s *Session) readControlLoop(ctx context.Context) error {
	for {
		msgType, payload, err := moq.ReadControlMsg(s.control)
		if err != nil {
			return moqerr.Wrap(moqerr.TransportFailed, "control stream closed", err)
		}

		switch msgType {
		case moq.MsgAnnounce:
			ann, err := moq.ParseAnnounce(payload)
			if err != nil {
				s.log.Warn("malformed ANNOUNCE", "error", err)
				continue
			}
			s.dispatchAnnouncement(ann.Namespace, true)
			if err := s.writeControl(moq.MsgAnnounceOK, moq.SerializeAnnounceOK(ann.Namespace)); err != nil {
				return moqerr.Wrap(moqerr.TransportFailed, "acking announce", err)
			}

		case moq.MsgUnannounce:
			un, err := moq.ParseUnannounce(payload)
			if err != nil {
				s.log.Warn("malformed UNANNOUNCE", "error", err)
				continue
			}
			s.dispatchAnnouncement(un.Namespace, false)

		case moq.MsgSubscribeOK:
			ok, err := moq.ParseSubscribeOK(payload)
			if err != nil {
				s.log.Warn("malformed SUBSCRIBE_OK", "error", err)
				continue
			}
			s.resolveSubscribe(ok.RequestID, subscribeResult{ok: ok})

		case moq.MsgSubscribeError:
			se, err := moq.ParseSubscribeError(payload)
			if err != nil {
				s.log.Warn("malformed SUBSCRIBE_ERROR", "error", err)
				continue
			}
			s.resolveSubscribe(se.RequestID, subscribeResult{failure: &se})

		case moq.MsgGoAway:
			ga, _ := moq.ParseGoAway(payload)
			s.log.Warn("relay sent GOAWAY", "new_session_uri", ga.NewSessionURI)
			return moqerr.New(moqerr.TransportFailed, "received GOAWAY")

		case moq.MsgMaxRequestID:
			// A client subscribing to a handful of tracks never approaches
			// its own request-id quota; nothing to act on.

		default:
			s.log.Debug("ignoring unhandled control message", "type", msgType)
		}
	}
}

func (s *Session) acceptDataStreamsLoop(ctx context.Context) error {
	for {
		str, err := s.conn.AcceptUniStream(ctx)
		if err != nil {
			return moqerr.Wrap(moqerr.TransportFailed, "accepting data stream", err)
		}
		go s.handleDataStream(str)
	}
}

func (s *Session) handleDataStream(str quic.ReceiveStream) {
	header, err := moq.ReadSubgroupHeader(str)
	if err != nil {
		s.log.Warn("malformed subgroup header, dropping stream", "error", err)
		str.CancelRead(0)
		return
	}

	s.mu.Lock()
	track := s.tracksByAlias[header.TrackAlias]
	s.mu.Unlock()

	if track == nil {
		s.log.Debug("data for unknown track alias, dropping stream", "track_alias", header.TrackAlias)
		str.CancelRead(0)
		return
	}
	track.deliverGroupStream(header, str)
}

func (s *Session) resolveSubscribe(requestID uint64, res subscribeResult) {
	s.mu.Lock()
	ch, ok := s.pendingSubscribe[requestID]
	if ok {
		delete(s.pendingSubscribe, requestID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	ch <- res
}

func (s *Session) dispatchAnnouncement(namespace []string, active bool) {
	key := Path(namespace).String()

	s.mu.Lock()
	if active {
		s.announced[key] = true
	} else {
		delete(s.announced, key)
	}
	watchers := make([]*AnnouncedIter, len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()

	for _, w := range watchers {
		if !Path(namespace).HasPrefix(w.prefix) {
			continue
		}
		w.push(Announcement{Path: Path(namespace), Active: active})
	}
}

// isAnnounced reports whether path is currently an active announcement.
func (s *Session) isAnnounced(path Path) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.announced[path.String()]
}

// subscribe issues a SUBSCRIBE for namespace/trackName and blocks until the
// relay answers with SUBSCRIBE_OK, SUBSCRIBE_ERROR, ctx is cancelled, or the
// session itself closes.
func (s *Session) subscribe(ctx context.Context, namespace []string, trackName string, priority byte) (*Track, error) {
	requestID := s.nextRequestID.Add(1) - 1

	resultCh := make(chan subscribeResult, 1)
	s.mu.Lock()
	s.pendingSubscribe[requestID] = resultCh
	s.mu.Unlock()

	sub := moq.Subscribe{
		RequestID:  requestID,
		Namespace:  namespace,
		TrackName:  trackName,
		Priority:   priority,
		GroupOrder: moq.GroupOrderAscending,
		Forward:    1,
		FilterType: moq.FilterNextGroupStart,
	}
	if err := s.writeControl(moq.MsgSubscribe, moq.SerializeSubscribe(sub)); err != nil {
		s.mu.Lock()
		delete(s.pendingSubscribe, requestID)
		s.mu.Unlock()
		return nil, moqerr.Wrap(moqerr.TransportFailed, "sending subscribe", err).WithTrack(trackName)
	}

	select {
	case res := <-resultCh:
		if res.failure != nil {
			return nil, moqerr.New(moqerr.BroadcastUnavailable, res.failure.ReasonPhrase).WithTrack(trackName)
		}
		track := newTrack(s, requestID, res.ok.TrackAlias, trackName, priority)
		s.mu.Lock()
		s.tracksByAlias[res.ok.TrackAlias] = track
		s.mu.Unlock()
		return track, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, moqerr.New(moqerr.TransportFailed, "session closed while subscribing").WithTrack(trackName)
	}
}

// unsubscribe sends UNSUBSCRIBE and forgets the track's alias mapping.
func (s *Session) unsubscribe(requestID, trackAlias uint64) {
	s.mu.Lock()
	delete(s.tracksByAlias, trackAlias)
	s.mu.Unlock()
	_ = s.writeControl(moq.MsgUnsubscribe, moq.SerializeUnsubscribe(requestID))
}

// Announcement reports a broadcast namespace becoming available or
// unavailable under a watched prefix.
type Announcement struct {
	Path   Path
	Active bool
}

// AnnouncedIter delivers Announcement events for namespaces under Prefix,
// both the initial burst of already-known announcements and future
// ANNOUNCE/UNANNOUNCE traffic.
type AnnouncedIter struct {
	session *Session
	prefix  Path
	ch      chan Announcement
	once    sync.Once
}

// Announced starts watching for broadcasts under prefix. It sends a
// SUBSCRIBE_ANNOUNCES to the relay so future (un)announcements arrive, and
// immediately replays any namespace already known to be active.
func (s *Session) Announced(ctx context.Context, prefix Path) (*AnnouncedIter, error) {
	requestID := s.nextRequestID.Add(1) - 1
	msg := moq.SubscribeAnnounces{RequestID: requestID, Prefix: prefix}
	if err := s.writeControl(moq.MsgSubscribeAnnounces, moq.SerializeSubscribeAnnounces(msg)); err != nil {
		return nil, moqerr.Wrap(moqerr.TransportFailed, "sending subscribe announces", err)
	}

	it := &AnnouncedIter{session: s, prefix: prefix, ch: make(chan Announcement, 32)}

	s.mu.Lock()
	s.watchers = append(s.watchers, it)
	for key := range s.announced {
		p := ParsePath(key)
		if p.HasPrefix(prefix) {
			it.push(Announcement{Path: p, Active: true})
		}
	}
	s.mu.Unlock()

	return it, nil
}

func (it *AnnouncedIter) push(a Announcement) {
	select {
	case it.ch <- a:
	default:
		// Watcher too slow to keep up; drop rather than block dispatch for
		// every other watcher and the control read loop behind it.
	}
}

// announceDiscoveryDeadline bounds how long Next waits for the next
// announcement when the caller hasn't already imposed a tighter deadline.
const announceDiscoveryDeadline = 2 * time.Second

// Next blocks until the next announcement, ctx cancellation, or the default
// announcement discovery deadline elapses, whichever comes first.
func (it *AnnouncedIter) Next(ctx context.Context) (Announcement, error) {
	ctx, cancel := context.WithTimeout(ctx, announceDiscoveryDeadline)
	defer cancel()

	select {
	case a := <-it.ch:
		return a, nil
	case <-ctx.Done():
		return Announcement{}, ctx.Err()
	}
}

// Close stops delivering announcements to this iterator.
func (it *AnnouncedIter) Close() {
	it.once.Do(func() {
		it.session.mu.Lock()
		defer it.session.mu.Unlock()
		for i, w := range it.session.watchers {
			if w == it {
				it.session.watchers = append(it.session.watchers[:i], it.session.watchers[i+1:]...)
				break
			}
		}
	})
}
