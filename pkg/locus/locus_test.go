package locus

import "testing"

func deviceLocus(devState ParticipantState, withMedia bool) *Locus {
	dev := Device{
		URL:           "https://cloud.example.com/devices/dev-1",
		CorrelationID: "corr-1",
		State:         devState,
	}
	if withMedia {
		dev.MediaConnections = []MediaConnection{{MediaID: "media-1", RemoteSDP: "v=0 answer"}}
	}
	return &Locus{
		Self: &Participant{
			ID:      "alice",
			State:   StateJoined,
			Devices: []Device{dev},
		},
		Participants: []*Participant{
			{ID: "alice", State: StateJoined},
			{ID: "bob", State: StateJoined},
		},
	}
}

func TestLocus_Remote(t *testing.T) {
	l := deviceLocus(StateJoined, false)
	remote := l.Remote()
	if remote == nil || remote.ID != "bob" {
		t.Fatalf("Remote() = %+v, want participant bob", remote)
	}

	var nilLocus *Locus
	if nilLocus.Remote() != nil {
		t.Error("Remote() on nil locus should be nil")
	}
}

func TestLocus_Direction(t *testing.T) {
	tests := []struct {
		name     string
		locus    *Locus
		expected Direction
	}{
		{"nil locus", nil, DirectionOutgoing},
		{"no self", &Locus{}, DirectionOutgoing},
		{"self is creator", &Locus{Self: &Participant{IsCreator: true}}, DirectionOutgoing},
		{"self is invitee", &Locus{Self: &Participant{IsCreator: false}}, DirectionIncoming},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.locus.Direction(); got != test.expected {
				t.Errorf("Direction() = %s, want %s", got, test.expected)
			}
		})
	}
}

func TestLocus_JoinedOnDevice(t *testing.T) {
	l := deviceLocus(StateJoined, false)
	if !l.JoinedOnDevice("corr-1") {
		t.Error("JoinedOnDevice() = false, want true")
	}
	if l.JoinedOnDevice("corr-2") {
		t.Error("JoinedOnDevice() with unknown correlation should be false")
	}
	if l.JoinedOnDevice("") {
		t.Error("JoinedOnDevice() with empty correlation should be false")
	}

	// Self joined but the device record itself has not joined.
	l = deviceLocus(StateNotified, false)
	if l.JoinedOnDevice("corr-1") {
		t.Error("JoinedOnDevice() should require the device record to be joined")
	}
}

func TestLocus_MediaLinkFor(t *testing.T) {
	l := deviceLocus(StateJoined, true)
	link := l.MediaLinkFor("corr-1")
	if link == nil || link.MediaID != "media-1" {
		t.Fatalf("MediaLinkFor() = %+v, want media-1", link)
	}

	if deviceLocus(StateJoined, false).MediaLinkFor("corr-1") != nil {
		t.Error("MediaLinkFor() without media connections should be nil")
	}
	if l.MediaLinkFor("corr-2") != nil {
		t.Error("MediaLinkFor() with unknown correlation should be nil")
	}
}

func TestLocus_DeviceByURL(t *testing.T) {
	l := deviceLocus(StateJoined, false)
	if d := l.DeviceByURL("https://cloud.example.com/devices/dev-1"); d == nil || d.CorrelationID != "corr-1" {
		t.Fatalf("DeviceByURL() = %+v, want device corr-1", d)
	}
	if l.DeviceByURL("https://cloud.example.com/devices/other") != nil {
		t.Error("DeviceByURL() with unknown URL should be nil")
	}
	if l.DeviceByURL("") != nil {
		t.Error("DeviceByURL() with empty URL should be nil")
	}
}
