package discovery

import (
	"strings"
	"testing"
)

func TestFormatHost(t *testing.T) {
	host := &Host{
		DisplayName: "nas",
		ID:          "nas.local.",
		IPAddress:   "192.168.1.4",
		IPAddresses: []string{"192.168.1.4", "fe80::4"},
		Services: map[string]*Service{
			"_smb._tcp": {
				Name: "NAS Share",
				Port: 445,
				TTL:  120,
				Properties: []map[string]string{
					{"model": "Xserve", "path": "/"},
					{"vers": "2"},
				},
			},
			"_http._tcp": {Name: "Admin", Port: 5000, TTL: 120},
		},
	}

	got := FormatHost(host)

	wantInOrder := []string{
		"Display Name: nas",
		"\nId: nas.local.",
		"\nIP Address: 192.168.1.4",
		"\nIP Addresses: 192.168.1.4  fe80::4 ",
		"\n\nServices:",
		"\n Service Key: _http._tcp",
		"\n Service Port: 5000",
		"\n ----- End -----",
		"\n Service Key: _smb._tcp",
		"\n Service Name: NAS Share",
		"\n Service TTL: 120",
		"\n   model: Xserve",
		"\n   path: /",
		"\n   vers: 2",
		"\n ----- End -----",
	}

	rest := got
	for _, part := range wantInOrder {
		i := strings.Index(rest, part)
		if i < 0 {
			t.Fatalf("FormatHost() missing %q (in order) in:\n%s", part, got)
		}
		rest = rest[i+len(part):]
	}
}

func TestFormatHost_Nil(t *testing.T) {
	if got := FormatHost(nil); got != "" {
		t.Errorf("FormatHost(nil) = %q", got)
	}
}

func TestFormatAnnouncement(t *testing.T) {
	got := FormatAnnouncement(Announcement{
		Adapter: AdapterInfo{Name: "wlan0", Address: "10.1.1.2"},
		Host:    &Host{DisplayName: "tv", IPAddress: "10.1.1.9"},
	})

	if !strings.HasPrefix(got, "Name: wlan0\n Address: 10.1.1.2\n Display Name: tv") {
		t.Errorf("FormatAnnouncement() = %q", got)
	}
}
