// Package mock provides in-process fake IRC peers and controllers that
// drive them, so harness code can be tested without external software.
package mock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/irctest/irctest-go/internal/testharness/negotiation"
	"github.com/irctest/irctest-go/pkg/message"
	"github.com/irctest/irctest-go/pkg/sasl"
	"github.com/irctest/irctest-go/pkg/transport"
)

// DefaultServerName is the source of server-originated messages.
const DefaultServerName = "fake.test"

// DefaultCapabilities are advertised when ServerConfig.Capabilities is nil.
var DefaultCapabilities = []string{
	"batch",
	"draft/labeled-response",
	"draft/message-tags-0.2",
	"echo-message",
	"labeled-response",
	"message-tags",
	"sasl=PLAIN",
	"server-time",
}

// ServerConfig configures a fake server.
type ServerConfig struct {
	// Name is the server name (default DefaultServerName).
	Name string

	// Network is announced in RPL_ISUPPORT.
	Network string

	// Capabilities advertised in CAP LS, values included.
	Capabilities []string

	// MultilineLS splits CAP LS 302 replies into one line per capability.
	MultilineLS bool

	// Accounts maps account names to passwords for SASL PLAIN.
	Accounts map[string]string

	// Transport is the base session configuration for accepted clients.
	Transport transport.Config

	// Logger receives connection lifecycle messages.
	Logger *slog.Logger
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Name == "" {
		c.Name = DefaultServerName
	}
	if c.Network == "" {
		c.Network = "FakeNet"
	}
	if c.Capabilities == nil {
		c.Capabilities = DefaultCapabilities
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Server is a small IRC server covering registration, capability
// negotiation, SASL PLAIN, channels and message delivery with
// echo-message, message-tags and labeled-response.
type Server struct {
	cfg ServerConfig

	mu       sync.Mutex
	ln       *transport.Listener
	cancel   context.CancelFunc
	clients  map[*serverClient]struct{}
	nicks    map[string]*serverClient
	channels map[string]map[*serverClient]struct{}
	accounts map[string]string
	batchSeq int

	wg sync.WaitGroup
}

type serverClient struct {
	sess *transport.Session

	// Guarded by Server.mu.
	nick        string
	user        string
	registered  bool
	negotiating bool
	caps        map[string]bool
	account     string

	saslMech string
	saslBuf  sasl.Assembler
}

// outgoing is a message queued for a client while Server.mu is held.
type outgoing struct {
	to  *serverClient
	msg message.Message
}

// NewServer creates a stopped fake server.
func NewServer(cfg ServerConfig) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:      cfg,
		accounts: maps.Clone(cfg.Accounts),
	}
}

// Start listens on host:port and serves clients until Stop or ctx ends.
func (s *Server) Start(ctx context.Context, host string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return ErrAlreadyRunning
	}

	tcfg := s.cfg.Transport
	tcfg.Host = host
	if tcfg.Name == "" {
		tcfg.Name = s.cfg.Name
	}
	ln, err := transport.ListenOn(tcfg, port)
	if err != nil {
		return fmt.Errorf("fake server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.ln = ln
	s.cancel = cancel
	s.clients = make(map[*serverClient]struct{})
	s.nicks = make(map[string]*serverClient)
	s.channels = make(map[string]map[*serverClient]struct{})
	if s.accounts == nil {
		s.accounts = make(map[string]string)
	}

	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return "", 0, ErrNotRunning
	}
	host, port := s.ln.Addr()
	return host, port, nil
}

// Stop closes the listener and every client connection and waits for the
// serving goroutines to exit. Stopping a stopped server is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.ln == nil {
		s.mu.Unlock()
		return nil
	}
	ln, cancel := s.ln, s.cancel
	s.ln, s.cancel = nil, nil
	clients := slices.Collect(maps.Keys(s.clients))
	s.mu.Unlock()

	cancel()
	err := ln.Close()
	for _, c := range clients {
		_ = c.sess.Close()
	}
	s.wg.Wait()
	return err
}

// RegisterAccount adds or replaces an account usable with SASL PLAIN.
func (s *Server) RegisterAccount(name, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accounts == nil {
		s.accounts = make(map[string]string)
	}
	s.accounts[name] = password
}

// HasAccount reports whether an account exists.
func (s *Server) HasAccount(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.accounts[name]
	return ok
}

// Nicks returns the nicknames of registered clients, sorted.
func (s *Server) Nicks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var nicks []string
	for c := range s.clients {
		if c.registered {
			nicks = append(nicks, c.nick)
		}
	}
	slices.Sort(nicks)
	return nicks
}

func (s *Server) acceptLoop(ctx context.Context, ln *transport.Listener) {
	defer s.wg.Done()
	for {
		sess, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, transport.ErrConnectionClosed) {
				s.cfg.Logger.Debug("fake server stopped accepting", slog.Any("error", err))
			}
			return
		}
		c := &serverClient{sess: sess, caps: make(map[string]bool)}
		s.mu.Lock()
		if s.ln != ln {
			s.mu.Unlock()
			_ = sess.Close()
			return
		}
		s.clients[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(c)
	}
}

func (s *Server) serve(c *serverClient) {
	defer s.wg.Done()
	defer s.drop(c)
	for {
		msg, err := c.sess.ReadMessage()
		if err != nil {
			if !errors.Is(err, transport.ErrConnectionClosed) {
				s.cfg.Logger.Debug("fake server read failed",
					slog.String("conn_id", c.sess.ConnectionID()), slog.Any("error", err))
			}
			return
		}
		if quit := s.handle(c, msg); quit {
			return
		}
	}
}

func (s *Server) drop(c *serverClient) {
	s.mu.Lock()
	delete(s.clients, c)
	if c.nick != "" && s.nicks[fold(c.nick)] == c {
		delete(s.nicks, fold(c.nick))
	}
	for name, members := range s.channels {
		delete(members, c)
		if len(members) == 0 {
			delete(s.channels, name)
		}
	}
	s.mu.Unlock()
	_ = c.sess.Close()
}

// handle dispatches one client message. It reports whether the connection
// should end.
func (s *Server) handle(c *serverClient, msg message.Message) bool {
	var out []outgoing
	quit := false

	s.mu.Lock()
	switch msg.Command {
	case "CAP":
		out = s.handleCap(c, msg)
	case "NICK":
		out = s.handleNick(c, msg)
	case "USER":
		out = s.handleUser(c, msg)
	case "PASS":
	case "PING":
		out = []outgoing{{c, s.reply("PONG", s.cfg.Name, msg.Last())}}
	case "PONG":
	case "AUTHENTICATE":
		out = s.handleAuthenticate(c, msg)
	case "QUIT":
		out = []outgoing{{c, message.New("ERROR", "Closing link: "+c.sess.RemoteAddr().String()+" (Quit)")}}
		quit = true
	default:
		if !c.registered {
			out = []outgoing{{c, s.numeric(c, "451", "You have not registered")}}
			break
		}
		switch msg.Command {
		case "JOIN":
			out = s.handleJoin(c, msg)
		case "PRIVMSG", "NOTICE", "TAGMSG":
			out = s.handleMessage(c, msg)
		case "REG":
			out = s.handleReg(c, msg)
		default:
			out = []outgoing{{c, s.numeric(c, "421", msg.Command, "Unknown command")}}
		}
	}
	s.mu.Unlock()

	for _, o := range out {
		if err := o.to.sess.SendMessage(o.msg); err != nil {
			s.cfg.Logger.Debug("fake server send failed",
				slog.String("conn_id", o.to.sess.ConnectionID()), slog.Any("error", err))
		}
	}
	return quit
}

func (s *Server) reply(command string, params ...string) message.Message {
	return message.New(command, params...).WithPrefix(s.cfg.Name)
}

func (s *Server) numeric(c *serverClient, code string, params ...string) message.Message {
	return s.reply(code, append([]string{c.target()}, params...)...)
}

func (c *serverClient) target() string {
	if c.nick == "" {
		return "*"
	}
	return c.nick
}

func (c *serverClient) hostmask() string {
	return c.nick + "!" + c.user + "@localhost"
}

func (s *Server) offered() map[string]string {
	caps := make(map[string]string, len(s.cfg.Capabilities))
	for _, token := range s.cfg.Capabilities {
		name, value, _ := strings.Cut(token, "=")
		caps[name] = value
	}
	return caps
}

func (s *Server) handleCap(c *serverClient, msg message.Message) []outgoing {
	if len(msg.Params) == 0 {
		return []outgoing{{c, s.numeric(c, "461", "CAP", "Not enough parameters")}}
	}
	switch strings.ToUpper(msg.Params[0]) {
	case "LS":
		if !c.registered {
			c.negotiating = true
		}
		version := 0
		if len(msg.Params) > 1 {
			version, _ = strconv.Atoi(msg.Params[1])
		}
		return s.capLS(c, version >= 302)
	case "LIST":
		var acked []string
		for name, on := range c.caps {
			if on {
				acked = append(acked, name)
			}
		}
		slices.Sort(acked)
		return []outgoing{{c, s.reply("CAP", c.target(), "LIST", strings.Join(acked, " "))}}
	case "REQ":
		if !c.registered {
			c.negotiating = true
		}
		if len(msg.Params) < 2 {
			return []outgoing{{c, s.numeric(c, "461", "CAP", "Not enough parameters")}}
		}
		offered := s.offered()
		requested := strings.Fields(msg.Params[1])
		for _, token := range requested {
			if _, ok := offered[strings.TrimPrefix(token, "-")]; !ok {
				return []outgoing{{c, s.reply("CAP", c.target(), "NAK", msg.Params[1])}}
			}
		}
		for _, token := range requested {
			if name, removed := strings.CutPrefix(token, "-"); removed {
				delete(c.caps, name)
			} else {
				c.caps[token] = true
			}
		}
		return []outgoing{{c, s.reply("CAP", c.target(), "ACK", msg.Params[1])}}
	case "END":
		c.negotiating = false
		return s.tryRegister(c)
	default:
		return []outgoing{{c, s.numeric(c, "410", msg.Params[0], "Invalid CAP command")}}
	}
}

func (s *Server) capLS(c *serverClient, v302 bool) []outgoing {
	tokens := make([]string, 0, len(s.cfg.Capabilities))
	for _, token := range s.cfg.Capabilities {
		if !v302 {
			token = negotiation.CapName(token)
		}
		tokens = append(tokens, token)
	}
	if !v302 || !s.cfg.MultilineLS || len(tokens) < 2 {
		return []outgoing{{c, s.reply("CAP", c.target(), "LS", strings.Join(tokens, " "))}}
	}
	out := make([]outgoing, 0, len(tokens))
	for i, token := range tokens {
		if i == len(tokens)-1 {
			out = append(out, outgoing{c, s.reply("CAP", c.target(), "LS", token)})
		} else {
			out = append(out, outgoing{c, s.reply("CAP", c.target(), "LS", "*", token)})
		}
	}
	return out
}

func (s *Server) handleNick(c *serverClient, msg message.Message) []outgoing {
	if len(msg.Params) == 0 || msg.Params[0] == "" {
		return []outgoing{{c, s.numeric(c, "431", "No nickname given")}}
	}
	nick := msg.Params[0]
	if other, ok := s.nicks[fold(nick)]; ok && other != c {
		return []outgoing{{c, s.numeric(c, "433", nick, "Nickname is already in use")}}
	}
	if c.nick != "" {
		delete(s.nicks, fold(c.nick))
	}
	old := c.hostmask()
	c.nick = nick
	s.nicks[fold(nick)] = c
	if c.registered {
		return []outgoing{{c, message.New("NICK", nick).WithPrefix(old)}}
	}
	return s.tryRegister(c)
}

func (s *Server) handleUser(c *serverClient, msg message.Message) []outgoing {
	if c.registered {
		return []outgoing{{c, s.numeric(c, "462", "You may not reregister")}}
	}
	if len(msg.Params) < 4 {
		return []outgoing{{c, s.numeric(c, "461", "USER", "Not enough parameters")}}
	}
	c.user = msg.Params[0]
	return s.tryRegister(c)
}

func (s *Server) tryRegister(c *serverClient) []outgoing {
	if c.registered || c.negotiating || c.nick == "" || c.user == "" {
		return nil
	}
	c.registered = true
	return []outgoing{
		{c, s.numeric(c, "001", "Welcome to the "+s.cfg.Network+" IRC Network "+c.hostmask())},
		{c, s.numeric(c, "002", "Your host is "+s.cfg.Name)},
		{c, s.numeric(c, "003", "This server was created today")},
		{c, s.numeric(c, "004", s.cfg.Name, "fake-1.0", "i", "nt")},
		{c, s.numeric(c, "005", "CASEMAPPING=ascii", "CHANTYPES=#", "NETWORK="+s.cfg.Network, "NICKLEN=32", "are supported by this server")},
		{c, s.numeric(c, "422", "MOTD File is missing")},
	}
}

func (s *Server) handleAuthenticate(c *serverClient, msg message.Message) []outgoing {
	if !c.caps["sasl"] || c.registered {
		return []outgoing{{c, s.numeric(c, sasl.ErrSaslFail, "SASL authentication failed")}}
	}
	if len(msg.Params) == 0 {
		return []outgoing{{c, s.numeric(c, "461", "AUTHENTICATE", "Not enough parameters")}}
	}

	if c.saslMech == "" {
		mech := strings.ToUpper(msg.Params[0])
		mechs := sasl.ParseMechanisms(s.offered()["sasl"])
		if mech != sasl.MechanismPlain || (len(mechs) > 0 && !slices.Contains(mechs, mech)) {
			return []outgoing{
				{c, s.numeric(c, sasl.RplSaslMechs, sasl.MechanismPlain, "are available SASL mechanisms")},
				{c, s.numeric(c, sasl.ErrSaslFail, "SASL authentication failed")},
			}
		}
		c.saslMech = mech
		return []outgoing{{c, message.New("AUTHENTICATE", "+")}}
	}

	done, raw, err := c.saslBuf.Add(msg.Params[0])
	switch {
	case errors.Is(err, sasl.ErrAborted):
		c.saslMech = ""
		return []outgoing{{c, s.numeric(c, sasl.ErrSaslAborted, "SASL authentication aborted")}}
	case errors.Is(err, sasl.ErrPayloadTooLong):
		c.saslMech = ""
		return []outgoing{{c, s.numeric(c, sasl.ErrSaslTooLong, "SASL message too long")}}
	case err != nil:
		c.saslMech = ""
		return []outgoing{{c, s.numeric(c, sasl.ErrSaslFail, "SASL authentication failed")}}
	case !done:
		return nil
	}

	c.saslMech = ""
	creds, err := sasl.ParsePlain(raw)
	if err != nil || creds.Authcid == "" {
		return []outgoing{{c, s.numeric(c, sasl.ErrSaslFail, "SASL authentication failed")}}
	}
	if password, ok := s.accounts[creds.Authcid]; !ok || password != creds.Password {
		return []outgoing{{c, s.numeric(c, sasl.ErrSaslFail, "SASL authentication failed")}}
	}
	c.account = creds.Authcid
	return []outgoing{
		{c, s.numeric(c, sasl.RplLoggedIn, c.hostmask(), c.account, "You are now logged in as "+c.account)},
		{c, s.numeric(c, sasl.RplSaslSuccess, "SASL authentication successful")},
	}
}

// handleReg implements "REG CREATE <account> passphrase <password>".
func (s *Server) handleReg(c *serverClient, msg message.Message) []outgoing {
	if len(msg.Params) < 4 || !strings.EqualFold(msg.Params[0], "CREATE") || !strings.EqualFold(msg.Params[2], "passphrase") {
		return []outgoing{{c, s.numeric(c, "461", "REG", "Not enough parameters")}}
	}
	account := msg.Params[1]
	if _, ok := s.accounts[account]; ok {
		return []outgoing{{c, s.numeric(c, "921", account, "Account already exists")}}
	}
	s.accounts[account] = msg.Params[3]
	return []outgoing{{c, s.numeric(c, "920", account, "Account created")}}
}

func (s *Server) handleJoin(c *serverClient, msg message.Message) []outgoing {
	if len(msg.Params) == 0 {
		return []outgoing{{c, s.numeric(c, "461", "JOIN", "Not enough parameters")}}
	}
	var out []outgoing
	for _, name := range strings.Split(msg.Params[0], ",") {
		if !strings.HasPrefix(name, "#") {
			out = append(out, outgoing{c, s.numeric(c, "403", name, "No such channel")})
			continue
		}
		key := fold(name)
		members, ok := s.channels[key]
		if !ok {
			members = make(map[*serverClient]struct{})
			s.channels[key] = members
		}
		if _, joined := members[c]; joined {
			continue
		}
		members[c] = struct{}{}

		join := message.New("JOIN", name).WithPrefix(c.hostmask())
		var names []string
		for _, m := range sortedMembers(members) {
			out = append(out, outgoing{m, join})
			names = append(names, m.nick)
		}
		out = append(out,
			outgoing{c, s.numeric(c, "353", "=", name, strings.Join(names, " "))},
			outgoing{c, s.numeric(c, "366", name, "End of /NAMES list")},
		)
	}
	return out
}

func sortedMembers(members map[*serverClient]struct{}) []*serverClient {
	list := slices.Collect(maps.Keys(members))
	slices.SortFunc(list, func(a, b *serverClient) int { return strings.Compare(a.nick, b.nick) })
	return list
}

// labelTag returns the label tag name c negotiated, or "".
func (c *serverClient) labelTag() string {
	switch {
	case c.caps["labeled-response"]:
		return "label"
	case c.caps["draft/labeled-response"]:
		return "draft/label"
	}
	return ""
}

func (c *serverClient) acceptsTags() bool {
	return c.caps["message-tags"] || c.caps["draft/message-tags-0.2"]
}

func (s *Server) handleMessage(c *serverClient, msg message.Message) []outgoing {
	minParams := 2
	if msg.Command == "TAGMSG" {
		minParams = 1
	}
	if len(msg.Params) < minParams {
		return []outgoing{{c, s.numeric(c, "461", msg.Command, "Not enough parameters")}}
	}

	clientTags := make(map[string]string)
	for k, v := range msg.Tags {
		if strings.HasPrefix(k, "+") {
			clientTags[k] = v
		}
	}
	build := func(target string, to *serverClient) message.Message {
		params := []string{target}
		if msg.Command != "TAGMSG" {
			params = append(params, msg.Params[1])
		}
		m := message.New(msg.Command, params...).WithPrefix(c.hostmask())
		if to.acceptsTags() && len(clientTags) > 0 {
			m = m.WithTags(clientTags)
		}
		return m
	}
	deliver := func(to *serverClient) bool {
		return msg.Command != "TAGMSG" || to.acceptsTags()
	}

	var out, responses []outgoing
	for _, target := range strings.Split(msg.Params[0], ",") {
		var recipients []*serverClient
		if strings.HasPrefix(target, "#") {
			members, ok := s.channels[fold(target)]
			if !ok {
				responses = append(responses, outgoing{c, s.numeric(c, "403", target, "No such channel")})
				continue
			}
			for _, m := range sortedMembers(members) {
				if m != c {
					recipients = append(recipients, m)
				}
			}
		} else {
			to, ok := s.nicks[fold(target)]
			if !ok || !to.registered {
				responses = append(responses, outgoing{c, s.numeric(c, "401", target, "No such nick/channel")})
				continue
			}
			recipients = append(recipients, to)
		}
		for _, to := range recipients {
			if deliver(to) {
				out = append(out, outgoing{to, build(target, to)})
			}
		}
		if c.caps["echo-message"] {
			responses = append(responses, outgoing{c, build(target, c)})
		}
	}
	return append(out, s.labelResponses(c, msg, responses)...)
}

// labelResponses applies labeled-response to the messages sent back to the
// originator: one response carries the label, several are wrapped in a
// labeled BATCH, none produce a labeled ACK.
func (s *Server) labelResponses(c *serverClient, req message.Message, responses []outgoing) []outgoing {
	tag := c.labelTag()
	label, ok := req.Tag(tag)
	if tag == "" || !ok {
		return responses
	}
	withTag := func(m message.Message, key, value string) message.Message {
		tags := maps.Clone(m.Tags)
		if tags == nil {
			tags = make(map[string]string)
		}
		tags[key] = value
		return m.WithTags(tags)
	}

	switch {
	case len(responses) == 0:
		return []outgoing{{c, withTag(s.reply("ACK"), tag, label)}}
	case len(responses) == 1:
		responses[0].msg = withTag(responses[0].msg, tag, label)
		return responses
	case !c.caps["batch"]:
		return responses
	}

	s.batchSeq++
	ref := "lr" + strconv.Itoa(s.batchSeq)
	batchType := "labeled-response"
	if tag == "draft/label" {
		batchType = "draft/labeled-response"
	}
	out := make([]outgoing, 0, len(responses)+2)
	out = append(out, outgoing{c, withTag(s.reply("BATCH", "+"+ref, batchType), tag, label)})
	for _, r := range responses {
		out = append(out, outgoing{c, withTag(r.msg, "batch", ref)})
	}
	return append(out, outgoing{c, s.reply("BATCH", "-"+ref)})
}

func fold(name string) string {
	return strings.ToLower(name)
}
