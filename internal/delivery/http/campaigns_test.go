package http

import (
	"testing"

	"github.com/eyeconlabs/bump-service/internal/domain"
)

func TestParseForwardLink(t *testing.T) {
	cases := []struct {
		name string
		link string
		want domain.ForwardSource
		ok   bool
	}{
		{
			name: "private channel",
			link: "https://t.me/c/2233445566/123",
			want: domain.ForwardSource{ChannelID: 2233445566, MessageID: 123},
			ok:   true,
		},
		{
			name: "public channel",
			link: "https://t.me/somechannel/42",
			want: domain.ForwardSource{Username: "somechannel", MessageID: 42},
			ok:   true,
		},
		{
			name: "bare link",
			link: "t.me/somechannel/42",
			want: domain.ForwardSource{Username: "somechannel", MessageID: 42},
			ok:   true,
		},
		{name: "empty", link: "", ok: false},
		{name: "no message id", link: "https://t.me/somechannel", ok: false},
		{name: "bad message id", link: "https://t.me/somechannel/abc", ok: false},
		{name: "bad channel id", link: "https://t.me/c/abc/1", ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseForwardLink(tc.link)
			if tc.ok != (err == nil) {
				t.Fatalf("parseForwardLink(%q) error = %v, want ok=%v", tc.link, err, tc.ok)
			}
			if err == nil && got != tc.want {
				t.Fatalf("parseForwardLink(%q) = %+v, want %+v", tc.link, got, tc.want)
			}
		})
	}
}

func TestProgressPercent(t *testing.T) {
	cases := []struct {
		name string
		p    domain.CampaignProgress
		want float64
	}{
		{name: "empty", p: domain.CampaignProgress{}, want: 0},
		{
			name: "half way",
			p:    domain.CampaignProgress{Total: 10, Sent: 4, Failed: 1, Cycle: 1},
			want: 50,
		},
		{
			name: "second cycle restarts",
			p:    domain.CampaignProgress{Total: 10, Sent: 12, Failed: 0, Cycle: 2},
			want: 20,
		},
		{
			name: "completed pins to 100",
			p:    domain.CampaignProgress{Total: 10, Sent: 9, Failed: 1, Status: domain.CampaignCompleted},
			want: 100,
		},
		{
			name: "never exceeds 100",
			p:    domain.CampaignProgress{Total: 4, Sent: 9, Failed: 0, Cycle: 1},
			want: 100,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := progressPercent(&tc.p); got != tc.want {
				t.Fatalf("progressPercent = %v, want %v", got, tc.want)
			}
		})
	}
}
