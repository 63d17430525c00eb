package mq

import (
	"reflect"
	"testing"
)

type fakeConn bool

func (f fakeConn) IsConnected() bool { return bool(f) }

func TestDisconnected(t *testing.T) {
	conns := map[string]Connectable{
		"publisher":                     fakeConn(true),
		"crowdfund.reward_claimed.q":    fakeConn(false),
		"crowdfund.funds_distributed.q": fakeConn(false),
	}
	want := []string{"crowdfund.funds_distributed.q", "crowdfund.reward_claimed.q"}
	if got := Disconnected(conns); !reflect.DeepEqual(got, want) {
		t.Fatalf("Disconnected = %v, want %v", got, want)
	}

	if got := Disconnected(map[string]Connectable{"publisher": fakeConn(true)}); len(got) != 0 {
		t.Fatalf("Disconnected = %v, want none", got)
	}
}

func TestUnconnectedClientsReportDisconnected(t *testing.T) {
	if (&Publisher{}).IsConnected() {
		t.Fatal("zero publisher should not be connected")
	}
	if (&Consumer{}).IsConnected() {
		t.Fatal("zero consumer should not be connected")
	}
}
