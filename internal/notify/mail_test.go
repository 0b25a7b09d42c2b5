package notify

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"workorders/internal/domain"
)

func TestBuildMessageHeaders(t *testing.T) {
	msg := string(buildMessage("ops@example.com", []string{"a@example.com", "b@example.com"}, "Hola", "<p>x</p>"))
	require.True(t, strings.HasPrefix(msg, "From: ops@example.com\r\n"))
	require.Contains(t, msg, "To: a@example.com, b@example.com\r\n")
	require.Contains(t, msg, "Subject: Hola\r\n")
	require.Contains(t, msg, "Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n<p>x</p>")
}

func TestBuildMessageEncodesNonASCIISubject(t *testing.T) {
	msg := string(buildMessage("ops@example.com", []string{"a@example.com"}, "Orden #3 enviada a revisión", "<p>x</p>"))
	require.Contains(t, msg, "Subject: =?UTF-8?q?Orden_#3_enviada_a_revisi=C3=B3n?=\r\n")
	require.NotContains(t, msg, "revisión")
}

// silentSMTP accepts connections and never writes a greeting.
func silentSMTP(t *testing.T) SMTPConfig {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		var held []net.Conn
		defer func() {
			for _, c := range held {
				c.Close()
			}
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			held = append(held, conn)
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return SMTPConfig{Host: "127.0.0.1", Port: addr.Port, From: "ops@example.com"}
}

func TestSMTPSendHonoursDeadline(t *testing.T) {
	m := NewSMTP(silentSMTP(t))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Send(ctx, []string{"a@example.com"}, "Hola", "<p>x</p>") }()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Send did not return after the context deadline")
	}
}

func TestSMTPSendHonoursCancel(t *testing.T) {
	m := NewSMTP(silentSMTP(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Send(ctx, []string{"a@example.com"}, "Hola", "<p>x</p>") }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Send did not return after cancel")
	}
}

func TestSMTPSendRequiresRecipients(t *testing.T) {
	err := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: 1}).Send(context.Background(), nil, "Hola", "")
	require.Error(t, err)
}

func TestRenderEmailEscapesNote(t *testing.T) {
	ev := Event{Kind: KindRejected, Message: "Rechazada", Note: "<b>falta</b>", WorkOrder: domain.WorkOrder{OrgSeq: 12, State: domain.StateAssigned}}
	subject, body, err := renderEmail(ev, "Ana")
	require.NoError(t, err)
	require.Equal(t, "Orden de trabajo #12 rechazada", subject)
	require.Contains(t, body, "Hola Ana")
	require.Contains(t, body, "&lt;b&gt;falta&lt;/b&gt;")
}
