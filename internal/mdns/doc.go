// Package mdns is the multicast DNS transport behind discovery.Source.
//
// Service types are enumerated with the DNS-SD meta-query
// "_services._dns-sd._udp" and each type is resolved with a
// github.com/grandcat/zeroconf browse. zeroconf reports each entry only once
// per resolver, so both streams browse in repeated scan windows with a fresh
// resolver each time; hosts that are still alive are therefore re-announced
// once per window.
//
// Unsolicited responses are read from the mDNS multicast group with
// golang.org/x/net/ipv4 and decoded with github.com/miekg/dns. They are
// reported for diagnostics only.
package mdns
