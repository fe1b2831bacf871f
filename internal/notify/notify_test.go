package notify

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipp-sync/internal/model"
)

func failedLog() model.SyncLog {
	start := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Minute)
	msg := "sipp perkara: unexpected status 503"
	return model.SyncLog{
		RunID:          "6f1c2a9e-1111-4c2b-9a8e-3d5f0e7a9b10",
		EntityType:     model.EntityCases,
		SyncType:       model.SyncIncremental,
		StartTime:      start,
		EndTime:        &end,
		RecordsFetched: 100,
		RecordsCreated: 4,
		RecordsUpdated: 90,
		ErrorMessage:   &msg,
	}
}

func TestBuildMessage(t *testing.T) {
	msg := buildMessage("sipp-sync@pn.example.go.id", []string{"a@pn.example.go.id", "b@pn.example.go.id"}, failedLog())

	assert.Contains(t, msg, "To: a@pn.example.go.id, b@pn.example.go.id\r\n")
	assert.Contains(t, msg, "Subject: [SIPP sync] cases incremental sync failed\r\n")
	assert.Contains(t, msg, "Fetched:  100 (created 4, updated 90)")
	assert.Contains(t, msg, "Error: sipp perkara: unexpected status 503")
}

// fakeSMTP accepts one message and returns the DATA payload on the channel.
func fakeSMTP(t *testing.T) (string, int, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

		reply("220 localhost ESMTP")
		var data strings.Builder
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if inData {
				if line == ".\r\n" {
					inData = false
					received <- data.String()
					reply("250 queued")
					continue
				}
				data.WriteString(line)
				continue
			}
			switch cmd := strings.ToUpper(strings.TrimSpace(line)); {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 localhost")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				reply("250 ok")
			case cmd == "DATA":
				inData = true
				reply("354 go ahead")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("250 ok")
			}
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port, received
}

func TestEmailNotifier_Sends(t *testing.T) {
	host, port, received := fakeSMTP(t)
	n := NewEmailNotifier(SMTPSettings{Host: host, Port: port, From: "sipp-sync@pn.example.go.id"}, []string{"panitera@pn.example.go.id"})

	err := n.NotifyRunFailed(context.Background(), failedLog())

	require.NoError(t, err)
	select {
	case body := <-received:
		assert.Contains(t, body, "Subject: [SIPP sync] cases incremental sync failed")
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestEmailNotifier_NoRecipients(t *testing.T) {
	n := NewEmailNotifier(SMTPSettings{Host: "unreachable.invalid", Port: 25}, nil)
	assert.NoError(t, n.NotifyRunFailed(context.Background(), failedLog()))
}
