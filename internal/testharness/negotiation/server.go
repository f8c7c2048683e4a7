package negotiation

import (
	"strings"

	"github.com/irctest/irctest-go/pkg/log"
	"github.com/irctest/irctest-go/pkg/message"
)

// nakEchoLimit caps the request text echoed back in a NAK.
const nakEchoLimit = 100

// Server negotiates with a client under test, playing the server side.
type Server struct {
	machine

	offered     []string
	offeredSet  map[string]struct{}
	leftover    *message.Message
	PendingNick string
	PendingUser []string
}

// NewServer creates a negotiator over conn.
func NewServer(conn Conn, opts ...Option) *Server {
	return &Server{
		machine:    newMachine(conn, log.RoleServer, opts),
		offeredSet: make(map[string]struct{}),
	}
}

// Offered returns the capabilities advertised in the last LS, with values.
func (s *Server) Offered() []string {
	return append([]string(nil), s.offered...)
}

// Leftover returns the message that ended a legacy registration, if any.
func (s *Server) Leftover() (message.Message, bool) {
	if s.leftover == nil {
		return message.Message{}, false
	}
	return *s.leftover, true
}

// ReadCapLS reads the client's opening message. "CAP LS" and "CAP LS 302"
// start negotiation, "CAP END" skips it. A client that opens with anything
// else is treated as a legacy client: its NICK and USER are captured until
// both were seen, and any other message is kept as the leftover.
func (s *Server) ReadCapLS() error {
	msg, err := s.conn.ReadMessage()
	if err != nil {
		return err
	}

	if msg.Command != "CAP" {
		return s.readLegacy(msg)
	}

	switch {
	case paramsEqualFold(msg.Params, "LS"):
		s.version = Version301
		s.setState(StateNegotiating, "CAP LS")
	case paramsEqualFold(msg.Params, "LS", "302"):
		s.version = Version302
		s.setState(StateNegotiating, "CAP LS 302")
	case paramsEqualFold(msg.Params, "END"):
		s.version = VersionNone
		s.setState(StateSkipped, "CAP END before LS")
	default:
		return protocolError(msg, "unknown CAP params %v", msg.Params)
	}
	return nil
}

func (s *Server) readLegacy(msg message.Message) error {
	for {
		handled, err := s.captureRegistration(msg)
		if err != nil {
			return err
		}
		if !handled {
			s.leftover = &msg
			s.setState(StateSkipped, "legacy client sent "+msg.Command)
			return nil
		}
		if s.PendingNick != "" && s.PendingUser != nil {
			s.setState(StateSkipped, "legacy registration")
			return nil
		}

		msg, err = s.conn.ReadMessage()
		if err != nil {
			return err
		}
	}
}

// captureRegistration records NICK and USER, reporting whether msg was one
// of them.
func (s *Server) captureRegistration(msg message.Message) (bool, error) {
	switch msg.Command {
	case "NICK":
		if err := checkShape(msg, 1); err != nil {
			return true, err
		}
		s.PendingNick = msg.Params[0]
		return true, nil
	case "USER":
		if err := checkShape(msg, 4); err != nil {
			return true, err
		}
		s.PendingUser = append([]string(nil), msg.Params...)
		return true, nil
	}
	return false, nil
}

// Negotiate runs a negotiation offering the given capabilities. When sendLS
// is set it first reads the client's CAP LS and answers it; a client that
// skipped negotiation returns immediately with the leftover message, if
// any.
//
// NICK and USER lines are captured while negotiating. Each CAP REQ is
// answered with ACK when every requested name was offered and with NAK
// otherwise. The first message that is neither NICK, USER nor CAP REQ is
// returned unconsumed; a non-CAP message or CAP END ends the negotiation.
func (s *Server) Negotiate(offered []string, sendLS bool) (*message.Message, error) {
	s.offered = append([]string(nil), offered...)
	s.offeredSet = make(map[string]struct{}, len(offered))
	for _, c := range offered {
		s.offeredSet[CapName(c)] = struct{}{}
	}

	if sendLS {
		if err := s.ReadCapLS(); err != nil {
			return nil, err
		}
		if s.state == StateSkipped {
			return s.leftover, nil
		}
		if err := s.conn.SendLine("CAP * LS :" + strings.Join(offered, " ")); err != nil {
			return nil, err
		}
	} else {
		s.setState(StateNegotiating, "negotiation resumed")
	}

	for {
		msg, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		handled, err := s.captureRegistration(msg)
		if err != nil {
			return nil, err
		}
		if handled {
			continue
		}

		if msg.Command != "CAP" {
			s.setState(StateEnded, "client sent "+msg.Command)
			return &msg, nil
		}
		if len(msg.Params) == 0 {
			return nil, protocolError(msg, "CAP without subcommand")
		}

		switch strings.ToUpper(msg.Params[0]) {
		case "REQ":
			if err := s.answerReq(msg); err != nil {
				return nil, err
			}
		case "END":
			s.setState(StateEnded, "CAP END")
			return &msg, nil
		default:
			return &msg, nil
		}
	}
}

func (s *Server) answerReq(msg message.Message) error {
	if err := checkShape(msg, 2); err != nil {
		return err
	}
	req := msg.Params[1]
	requested := strings.Fields(req)

	target := s.PendingNick
	if target == "" {
		target = "*"
	}

	for _, name := range requested {
		if _, ok := s.offeredSet[name]; !ok {
			return s.conn.SendLine("CAP " + target + " NAK :" + truncateRunes(req, nakEchoLimit))
		}
	}

	if err := s.conn.SendLine("CAP " + target + " ACK :" + req); err != nil {
		return err
	}
	for _, name := range requested {
		s.acked[name] = struct{}{}
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func paramsEqualFold(params []string, want ...string) bool {
	if len(params) != len(want) {
		return false
	}
	for i := range params {
		if !strings.EqualFold(params[i], want[i]) {
			return false
		}
	}
	return true
}
