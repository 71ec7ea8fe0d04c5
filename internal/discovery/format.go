package discovery

import (
	"fmt"
	"sort"
	"strings"
)

// FormatHost renders every field of a resolved host, including all services
// and their properties, as human-readable text.
func FormatHost(host *Host) string {
	if host == nil {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Display Name: %s", host.DisplayName)
	fmt.Fprintf(&sb, "\nId: %s", host.ID)
	fmt.Fprintf(&sb, "\nIP Address: %s", host.IPAddress)

	sb.WriteString("\nIP Addresses:")
	for _, addr := range host.IPAddresses {
		fmt.Fprintf(&sb, " %s ", addr)
	}

	sb.WriteString("\n\nServices:")
	for _, key := range host.ServiceKeys() {
		svc := host.Services[key]
		if svc == nil {
			continue
		}
		sb.WriteString("\n\n ----- Begin -----")
		fmt.Fprintf(&sb, "\n Service Key: %s", key)
		fmt.Fprintf(&sb, "\n Service Name: %s", svc.Name)
		fmt.Fprintf(&sb, "\n Service Port: %d", svc.Port)
		fmt.Fprintf(&sb, "\n Service TTL: %d", svc.TTL)
		sb.WriteString("\n Service Properties:")
		for _, group := range svc.Properties {
			names := make([]string, 0, len(group))
			for name := range group {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(&sb, "\n   %s: %s", name, group[name])
			}
		}
		sb.WriteString("\n ----- End -----")
	}

	return sb.String()
}

// FormatAnnouncement renders an unsolicited announcement for the error log.
func FormatAnnouncement(a Announcement) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s", a.Adapter.Name)
	fmt.Fprintf(&sb, "\n Address: %s", a.Adapter.Address)
	fmt.Fprintf(&sb, "\n %s", FormatHost(a.Host))
	return sb.String()
}
