package fakeserver

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/boardlink/internal/protocol/session"
	"github.com/danmuck/boardlink/internal/testutil/testlog"
)

func TestServerAnswersIntroAndPing(t *testing.T) {
	testlog.Start(t)
	hs := DefaultHandshake()
	hs.ServerTime = 1000
	srv, err := Start(Config{Handshake: hs, WithPasswordFlag: true})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.HostPort())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(conn)

	if _, err := conn.Write([]byte("200 1 u#1 k <none> 0 N 1\n")); err != nil {
		t.Fatalf("write intro: %v", err)
	}
	ack, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if strings.TrimSpace(ack) != hs.AckLine(true) {
		t.Fatalf("ack got=%q", ack)
	}
	_, fields, _ := strings.Cut(strings.TrimSpace(ack), " ")
	if parsed, err := session.ParseHandshake(fields); err != nil || parsed != hs {
		t.Fatalf("ack does not parse back: %+v err=%v", parsed, err)
	}

	if _, err := conn.Write([]byte("x3 302 1234\nx4 310 a\n308 untagged\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, want := range []string{"x3 303 1234", "x4 310 a"} {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.TrimSpace(line) != want {
			t.Fatalf("reply got=%q want=%q", line, want)
		}
	}
	got := srv.WaitReceived(3, time.Second)
	if len(got) != 3 || got[2] != "308 untagged" {
		t.Fatalf("received got=%q", got)
	}
}

func TestServerRejectsNonIntro(t *testing.T) {
	testlog.Start(t)
	srv, err := Start(Config{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.HostPort())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	_, _ = conn.Write([]byte("hello\n"))
	if _, err := bufio.NewReader(conn).ReadString('\n'); err == nil {
		t.Fatalf("server should hang up on a non-intro line")
	}
	if len(srv.Intros()) != 0 {
		t.Fatalf("no intro should be recorded")
	}
}
