package notification

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/financial-tracker/internal/config"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeSMTP accepts a single session the way MailHog does: no auth, no TLS.
type fakeSMTP struct {
	listener net.Listener
	mu       sync.Mutex
	from     string
	rcpt     []string
	data     string
	done     chan struct{}
}

func startFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeSMTP{listener: l, done: make(chan struct{})}
	t.Cleanup(func() { l.Close() })
	go f.serve()
	return f
}

func (f *fakeSMTP) port() int {
	return f.listener.Addr().(*net.TCPAddr).Port
}

func (f *fakeSMTP) serve() {
	defer close(f.done)
	conn, err := f.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	reply := func(line string) {
		w.WriteString(line + "\r\n")
		w.Flush()
	}

	reply("220 localhost ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		upper := strings.ToUpper(cmd)

		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			reply("250 localhost")
		case strings.HasPrefix(upper, "MAIL FROM:"):
			f.mu.Lock()
			f.from = strings.Trim(cmd[len("MAIL FROM:"):], "<> ")
			f.mu.Unlock()
			reply("250 OK")
		case strings.HasPrefix(upper, "RCPT TO:"):
			f.mu.Lock()
			f.rcpt = append(f.rcpt, strings.Trim(cmd[len("RCPT TO:"):], "<> "))
			f.mu.Unlock()
			reply("250 OK")
		case upper == "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			f.mu.Lock()
			f.data = body.String()
			f.mu.Unlock()
			reply("250 OK queued")
		case upper == "QUIT":
			reply("221 Bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func TestSMTPSenderPlain(t *testing.T) {
	srv := startFakeSMTP(t)

	sender := NewSMTPSender(config.MailConfig{
		Host:      "127.0.0.1",
		Port:      srv.port(),
		FromEmail: "noreply@tracker.local",
		FromName:  "Financial Tracker",
		Timeout:   5 * time.Second,
	})
	sender.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	msg, err := SpendingExceededEmail("alice", "alice@example.com", mustDecimal("1200"), mustDecimal("1000"))
	require.NoError(t, err)

	require.NoError(t, sender.Send(context.Background(), msg))

	select {
	case <-srv.done:
	case <-time.After(5 * time.Second):
		t.Fatal("smtp session did not finish")
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, "noreply@tracker.local", srv.from)
	assert.Equal(t, []string{"alice@example.com"}, srv.rcpt)
	assert.Contains(t, srv.data, "From: Financial Tracker <noreply@tracker.local>\r\n")
	assert.Contains(t, srv.data, "Subject: Spending Limit Exceeded!\r\n")
	assert.Contains(t, srv.data, "Date: Fri, 01 Mar 2024 12:00:00 +0000\r\n")
	assert.Contains(t, srv.data, "Content-Type: text/plain; charset=UTF-8\r\n")
	assert.Contains(t, srv.data, "Message-ID: "+msg.ID)
	assert.Contains(t, srv.data, "Overspent by: 200.00 UAH\r\n")
}

func TestSMTPSenderConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	sender := NewSMTPSender(config.MailConfig{Host: "127.0.0.1", Port: port, FromEmail: "noreply@tracker.local", Timeout: time.Second})
	err = sender.Send(context.Background(), &Message{To: []string{"a@example.com"}, Subject: "hi", Body: "x"})
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeExternal))
	assert.Contains(t, err.Error(), strconv.Itoa(port))
}

func TestIsValidEmail(t *testing.T) {
	assert.True(t, IsValidEmail("user@example.com"))
	assert.False(t, IsValidEmail("user"))
	assert.False(t, IsValidEmail("@example.com"))
	assert.False(t, IsValidEmail("a@b@c"))
	assert.False(t, IsValidEmail("user@example.com\r\nBcc: x@y.z"))
}

func TestSpendingTemplates(t *testing.T) {
	warn, err := SpendingWarningEmail("alice", "alice@example.com", mustDecimal("850"), mustDecimal("1000"), mustDecimal("80"))
	require.NoError(t, err)
	assert.Equal(t, SubjectSpendingWarning, warn.Subject)
	assert.Equal(t, KindSpendingWarning, warn.Kind)
	assert.Contains(t, warn.Body, "Hello alice,")
	assert.Contains(t, warn.Body, "You have reached 80% of your monthly spending limit.")
	assert.Contains(t, warn.Body, "Current spending: 850.00 UAH")
	assert.Contains(t, warn.Body, "Monthly limit: 1000.00 UAH")
	assert.Contains(t, warn.Body, "Remaining: 150.00 UAH")
	assert.Contains(t, warn.Body, "Please monitor your expenses carefully.")

	exceeded, err := SpendingExceededEmail("alice", "alice@example.com", mustDecimal("1100.5"), mustDecimal("1000"))
	require.NoError(t, err)
	assert.Equal(t, "Spending Limit Exceeded!", exceeded.Subject)
	assert.Contains(t, exceeded.Body, "WARNING: You have exceeded your monthly spending limit!")
	assert.Contains(t, exceeded.Body, "Overspent by: 100.50 UAH")
}

func TestLinkTemplates(t *testing.T) {
	verify, err := VerificationEmail("bob", "bob@example.com", "http://localhost:3000/verify?token=abc", "24h0m0s")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob@example.com"}, verify.To)
	assert.Contains(t, verify.Body, "http://localhost:3000/verify?token=abc")
	assert.NotEmpty(t, verify.ID)

	reset, err := PasswordResetEmail("bob", "bob@example.com", "http://localhost:3000/reset?token=xyz", "1h0m0s")
	require.NoError(t, err)
	assert.Equal(t, KindPasswordReset, reset.Kind)
	assert.Contains(t, reset.Body, "reset?token=xyz")
}
