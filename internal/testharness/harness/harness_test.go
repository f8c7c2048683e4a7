package harness

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/irctest/irctest-go/internal/testharness/assertions"
	"github.com/irctest/irctest-go/internal/testharness/controller"
	fake "github.com/irctest/irctest-go/internal/testharness/mock"
	"github.com/irctest/irctest-go/internal/testharness/negotiation"
	"github.com/irctest/irctest-go/pkg/message"
)

// recordingTB is a TB whose Fatal and Skip stop only the goroutine
// started by run.
type recordingTB struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	failed   bool
	skipped  bool
	messages []string
	fatalErr error
	cleanups []func()
}

func newRecordingTB() *recordingTB {
	ctx, cancel := context.WithCancel(context.Background())
	return &recordingTB{ctx: ctx, cancel: cancel}
}

func (r *recordingTB) Helper()      {}
func (r *recordingTB) Name() string { return "recording" }

func (r *recordingTB) Logf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, fmt.Sprintf(format, args...))
}

func (r *recordingTB) Errorf(format string, args ...any) {
	r.Logf(format, args...)
	r.mu.Lock()
	r.failed = true
	r.mu.Unlock()
}

func (r *recordingTB) Fatalf(format string, args ...any) {
	r.Errorf(format, args...)
	runtime.Goexit()
}

func (r *recordingTB) FailNow() {
	r.mu.Lock()
	r.failed = true
	r.mu.Unlock()
	runtime.Goexit()
}

func (r *recordingTB) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

func (r *recordingTB) Skipf(format string, args ...any) {
	r.Logf(format, args...)
	r.SkipNow()
}

func (r *recordingTB) SkipNow() {
	r.mu.Lock()
	r.skipped = true
	r.mu.Unlock()
	runtime.Goexit()
}

func (r *recordingTB) Cleanup(f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups = append(r.cleanups, f)
}

func (r *recordingTB) Context() context.Context { return r.ctx }

func (r *recordingTB) FatalError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fatalErr = err
}

// run executes fn like a test body, then its cleanups.
func (r *recordingTB) run(fn func(t TB)) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			r.mu.Lock()
			cleanups := r.cleanups
			r.cleanups = nil
			r.mu.Unlock()
			for i := len(cleanups) - 1; i >= 0; i-- {
				cleanups[i]()
			}
			r.cancel()
		}()
		fn(r)
	}()
	<-done
}

// mockServerController is a testify mock of controller.ServerController.
type mockServerController struct {
	mock.Mock
}

func (m *mockServerController) SoftwareName() string {
	return "MockIRCd"
}

func (m *mockServerController) Run(ctx context.Context, host string, port int, opts controller.Options) error {
	args := m.Called(host, port, opts)
	return args.Error(0)
}

func (m *mockServerController) Kill() error {
	return m.Called().Error(0)
}

func (m *mockServerController) SupportedSASLMechanisms() []string {
	return []string{"PLAIN"}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{DrainWait: -time.Second}.Validate())
	assert.Error(t, Config{ConnectTimeout: -time.Second}.Validate())
	assert.Error(t, Config{SendRate: -1}.Validate())
}

func TestFilters(t *testing.T) {
	ping := message.New("PING", "x")
	assert.True(t, Command("PONG", "PING")(ping))
	assert.False(t, Not(Command("PING"))(ping))
}

func TestServerCaseUnsupportedSkips(t *testing.T) {
	ctrl := &mockServerController{}
	ctrl.On("Run", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.Join(controller.Unsupported("MockIRCd", "TLS")))
	ctrl.On("Kill").Return(nil)

	tb := newRecordingTB()
	reached := false
	tb.run(func(t TB) {
		NewServerCase(t, ctrl, controller.Options{TLS: true}, Config{})
		reached = true
	})

	assert.True(t, tb.skipped)
	assert.False(t, tb.failed)
	assert.False(t, reached)
	ctrl.AssertCalled(t, "Kill")
	assert.Contains(t, tb.messages[0], "TLS")
}

func TestServerCaseStartFailure(t *testing.T) {
	boom := errors.New("boom")
	ctrl := &mockServerController{}
	ctrl.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(boom)
	ctrl.On("Kill").Return(errors.New("not running"))

	tb := newRecordingTB()
	tb.run(func(t TB) {
		NewServerCase(t, ctrl, controller.Options{}, Config{})
	})

	assert.True(t, tb.failed)
	assert.ErrorIs(t, tb.fatalErr, boom)
	ctrl.AssertExpectations(t)
}

func TestTeardownOnContextCancel(t *testing.T) {
	ctrl := &mockServerController{}
	ctrl.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	killed := make(chan struct{})
	ctrl.On("Kill").Run(func(mock.Arguments) { close(killed) }).Return(nil).Once()

	tb := newRecordingTB()
	s := NewServerCase(tb, ctrl, controller.Options{}, Config{})
	tb.cancel()

	select {
	case <-killed:
	case <-time.After(5 * time.Second):
		t.Fatal("teardown did not run after cancel")
	}
	s.Teardown()
	ctrl.AssertNumberOfCalls(t, "Kill", 1)
}

func newFakeServerCase(t *testing.T) (*ServerCase, *fake.ServerController) {
	t.Helper()
	ctrl := &fake.ServerController{}
	return NewServerCase(t, ctrl, controller.Options{}, Config{}), ctrl
}

// A label sent with PRIVMSG comes back on the sender's echo only.
func TestServerCaseLabeledPrivmsg(t *testing.T) {
	s, _ := newFakeServerCase(t)
	caps := []string{"echo-message", "batch", "draft/labeled-response", "message-tags"}
	one := s.ConnectClient("foo", ConnectOptions{Capabilities: caps, SkipIfCapNAK: true})
	two := s.ConnectClient("bar", ConnectOptions{Capabilities: caps, SkipIfCapNAK: true})
	assert.Equal(t, "1", one)
	assert.Equal(t, "2", two)

	s.SendLine(one, "@draft/label=12345 PRIVMSG bar :hi")

	echo := s.GetMessage(one, Command("PRIVMSG"))
	s.AssertTagEqual(echo, "draft/label", "12345")
	s.AssertMessageEqual(echo, assertions.Fields{Command: "PRIVMSG", Params: []string{"bar", "hi"}})

	delivered := s.GetMessage(two, Command("PRIVMSG"))
	s.AssertLacksTag(delivered, "draft/label")
	s.AssertMessageEqual(delivered, assertions.Fields{Command: "PRIVMSG", Nick: "foo", Params: []string{"bar", "hi"}})
}

func TestServerCaseClientNaming(t *testing.T) {
	s, _ := newFakeServerCase(t)
	assert.Equal(t, "1", s.AddClient())
	assert.Equal(t, "2", s.AddClient())
	assert.Equal(t, "named", s.AddNamedClient("named"))

	s.RemoveClient("1")
	assert.Equal(t, "3", s.AddClient())
	assert.ElementsMatch(t, []string{"2", "3", "named"}, s.Clients())
}

func TestServerCaseISupportAndCapLS(t *testing.T) {
	s, _ := newFakeServerCase(t)
	s.ConnectClient("foo", ConnectOptions{})
	assert.Equal(t, "FakeNet", s.ISupport["NETWORK"])
	_, ok := s.ISupport["CHANTYPES"]
	assert.True(t, ok)

	name := s.AddClient()
	s.SendLine(name, "CAP LS 302")
	assert.Contains(t, s.GetCapLS(name), "sasl=PLAIN")
}

func TestServerCaseMultilineCapLS(t *testing.T) {
	ctrl := &fake.ServerController{Config: fake.ServerConfig{Capabilities: []string{"a", "b=1", "c"}, MultilineLS: true}}
	s := NewServerCase(t, ctrl, controller.Options{}, Config{})

	name := s.AddClient()
	s.SendLine(name, "CAP LS 302")
	assert.Equal(t, []string{"a", "b=1", "c"}, s.GetCapLS(name))
}

func TestServerCaseSkipIfCapNAK(t *testing.T) {
	tb := newRecordingTB()
	ctrl := &fake.ServerController{}
	tb.run(func(t TB) {
		s := NewServerCase(t, ctrl, controller.Options{}, Config{})
		s.ConnectClient("foo", ConnectOptions{Capabilities: []string{"draft/nonexistent"}, SkipIfCapNAK: true})
	})
	assert.True(t, tb.skipped)
	assert.Nil(t, ctrl.Server())
}

func TestServerCaseRegisterUser(t *testing.T) {
	s, ctrl := newFakeServerCase(t)
	s.RegisterUser("jilles", "sesame")
	assert.True(t, ctrl.Server().HasAccount("jilles"))
	assert.Empty(t, s.Clients())
}

func TestServerCaseExpectDisconnect(t *testing.T) {
	s, _ := newFakeServerCase(t)
	name := s.ConnectClient("foo", ConnectOptions{})
	s.SendLine(name, "QUIT :bye")
	msgs := s.ExpectDisconnect(name)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "ERROR", msgs[len(msgs)-1].Command)
}

func TestServerCaseMismatchReportsFields(t *testing.T) {
	tb := newRecordingTB()
	tb.run(func(t TB) {
		s := NewServerCase(t, &fake.ServerController{}, controller.Options{}, Config{})
		name := s.ConnectClient("foo", ConnectOptions{})
		s.SendLine(name, "PING :x")
		pong := s.GetMessage(name, Command("PONG"))
		s.AssertMessageEqual(pong, assertions.Fields{Command: "PING", Params: []string{"y"}})
	})

	require.True(t, tb.failed)
	var mismatch *assertions.MismatchError
	require.ErrorAs(t, tb.fatalErr, &mismatch)
	assert.Contains(t, mismatch.Fields(), "command")
}

func TestServerCaseGetMessagesEmpty(t *testing.T) {
	s, _ := newFakeServerCase(t)
	name := s.ConnectClient("foo", ConnectOptions{})
	msgs := s.GetMessages(name)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestClientCaseNegotiatesSASL(t *testing.T) {
	ctrl := &fake.ClientController{Script: fake.ClientScript{Version: negotiation.Version302}}
	c := NewClientCase(t, ctrl, Config{})

	msg := c.NegotiateCapabilities([]string{"sasl"}, NegotiateOptions{
		Controller: controller.Options{Auth: &controller.Auth{
			Mechanisms: []string{"PLAIN"}, Username: "jilles", Password: "sesame",
		}},
	})
	require.NotNil(t, msg)
	c.AssertMessageEqual(*msg, assertions.Fields{Command: "AUTHENTICATE", Params: []string{"PLAIN"}})
	assert.Equal(t, "fakebot", c.Nick())
	assert.True(t, c.Negotiation().IsAcked("sasl"))

	c.SendLine("AUTHENTICATE +")
	payload := c.GetMessage(Command("AUTHENTICATE"))
	c.AssertMessageEqual(payload, assertions.Fields{Params: []string{"AGppbGxlcwBzZXNhbWU="}})

	c.SendLine(":irc.test 903 fakebot :SASL authentication successful")
	end := c.GetMessage(c.UserNickFilter())
	c.AssertMessageEqual(end, assertions.Fields{Command: "CAP", Params: []string{"END"}})
}

func TestClientCaseEmptyNegotiation(t *testing.T) {
	ctrl := &fake.ClientController{Script: fake.ClientScript{Version: negotiation.Version301}}
	c := NewClientCase(t, ctrl, Config{})

	msg := c.NegotiateCapabilities(nil, NegotiateOptions{})
	require.NotNil(t, msg)
	c.AssertMessageEqual(*msg, assertions.Fields{Command: "CAP", Params: []string{"END"}})
	assert.Equal(t, negotiation.Version301, c.Negotiation().Version())
	assert.Equal(t, negotiation.StateEnded, c.Negotiation().State())
}

func TestClientCaseLegacyClient(t *testing.T) {
	ctrl := &fake.ClientController{Script: fake.ClientScript{Nick: "oldbot"}}
	c := NewClientCase(t, ctrl, Config{})

	v := c.ReadCapLS(controller.Options{})
	assert.Equal(t, negotiation.VersionNone, v)
	assert.Equal(t, "oldbot", c.Nick())
	assert.Len(t, c.User(), 4)
}

func TestClientCaseUnsupportedSkips(t *testing.T) {
	ctrl := &fake.ClientController{Unsupported: []string{controller.OptionSASL}}
	tb := newRecordingTB()
	tb.run(func(t TB) {
		c := NewClientCase(t, ctrl, Config{})
		c.StartClient(controller.Options{Auth: &controller.Auth{Username: "u", Password: "p"}})
	})
	assert.True(t, tb.skipped)
	assert.Nil(t, ctrl.Client())
}

// selfSignedCert returns a throwaway certificate for 127.0.0.1.
func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "irc.test"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// tlsServerController listens with TLS and reports the first line of the
// first connection.
type tlsServerController struct {
	cert  tls.Certificate
	lines chan string
	ln    net.Listener
}

func (c *tlsServerController) SoftwareName() string               { return "TLSd" }
func (c *tlsServerController) SupportedSASLMechanisms() []string { return nil }

func (c *tlsServerController) Run(ctx context.Context, host string, port int, opts controller.Options) error {
	if !opts.TLS {
		return errors.New("expected a TLS start")
	}
	ln, err := tls.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)), &tls.Config{Certificates: []tls.Certificate{c.cert}})
	if err != nil {
		return err
	}
	c.ln = ln
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err == nil {
			c.lines <- strings.TrimRight(line, "\r\n")
		}
	}()
	return nil
}

func (c *tlsServerController) Kill() error {
	if c.ln == nil {
		return nil
	}
	return c.ln.Close()
}

func TestServerCaseDialsTLS(t *testing.T) {
	ctrl := &tlsServerController{cert: selfSignedCert(t), lines: make(chan string, 1)}
	s := NewServerCase(t, ctrl, controller.Options{TLS: true}, Config{})

	name := s.AddClient()
	s.SendLine(name, "PING :over-tls")

	select {
	case line := <-ctrl.lines:
		assert.Equal(t, "PING :over-tls", line)
	case <-time.After(5 * time.Second):
		t.Fatal("server never read a line over TLS")
	}
}
