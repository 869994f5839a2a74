package discovery

import (
	"testing"
	"time"

	"github.com/capydeploy/capydeploy/pkg/protocol"
)

func TestDirectoryAddManualEmitsDiscovered(t *testing.T) {
	client := NewClient()
	defer client.Close()

	dir := NewDirectory(client)
	defer dir.Close()

	info := protocol.AgentInfo{ID: "agent-1", Name: "Test Rig"}
	agent := dir.AddManual(info, "192.168.1.50", 9001)
	if agent.Host != "192.168.1.50" || agent.Port != 9001 {
		t.Fatalf("AddManual() agent = %+v, want host/port set", agent)
	}

	select {
	case ev := <-dir.Events():
		if ev.Type != EventDiscovered {
			t.Errorf("event type = %v, want EventDiscovered", ev.Type)
		}
		if ev.Agent.Info.ID != "agent-1" {
			t.Errorf("event agent ID = %q, want agent-1", ev.Agent.Info.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for discovered event")
	}
}

func TestDirectoryAddManualTwiceUpdatesNotDuplicates(t *testing.T) {
	client := NewClient()
	defer client.Close()

	dir := NewDirectory(client)
	defer dir.Close()

	info := protocol.AgentInfo{ID: "agent-1"}
	dir.AddManual(info, "10.0.0.1", 9001)
	<-dir.Events()

	dir.AddManual(info, "10.0.0.2", 9002)
	select {
	case ev := <-dir.Events():
		if ev.Type != EventUpdated {
			t.Errorf("event type = %v, want EventUpdated", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for updated event")
	}

	agents := dir.Agents()
	if len(agents) != 1 {
		t.Fatalf("Agents() returned %d entries, want 1", len(agents))
	}
	if agents[0].Port != 9002 {
		t.Errorf("agent port = %d, want 9002 (refreshed)", agents[0].Port)
	}
}

func TestDirectoryRemoveManualEmitsLost(t *testing.T) {
	client := NewClient()
	defer client.Close()

	dir := NewDirectory(client)
	defer dir.Close()

	dir.AddManual(protocol.AgentInfo{ID: "agent-1"}, "10.0.0.1", 9001)
	<-dir.Events()

	dir.RemoveManual("agent-1")
	select {
	case ev := <-dir.Events():
		if ev.Type != EventLost {
			t.Errorf("event type = %v, want EventLost", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for lost event")
	}

	if dir.Agent("agent-1") != nil {
		t.Error("Agent() still returns removed manual agent")
	}
}

func TestDirectoryAgentPrefersManualOverClient(t *testing.T) {
	client := NewClient()
	defer client.Close()

	dir := NewDirectory(client)
	defer dir.Close()

	dir.AddManual(protocol.AgentInfo{ID: "agent-1", Name: "Manual"}, "10.0.0.1", 9001)
	<-dir.Events()

	got := dir.Agent("agent-1")
	if got == nil || got.Info.Name != "Manual" {
		t.Fatalf("Agent() = %+v, want manual entry", got)
	}
}
