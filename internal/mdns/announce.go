package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"github.com/muurk/mdnsdiscover/internal/discovery"
	"github.com/muurk/mdnsdiscover/internal/logging"
)

const (
	// DefaultDedupeWindow suppresses repeats of an identical announcement
	DefaultDedupeWindow = 10 * time.Second

	mdnsPort   = 5353
	maxMessage = 9000
)

var mdnsGroupIPv4 = net.IPv4(224, 0, 0, 251)

// Listener reports unsolicited mDNS responses seen on the local network.
type Listener struct {
	// Interface limits listening to one adapter. Nil joins every
	// multicast-capable interface.
	Interface *net.Interface

	// DedupeWindow is how long an identical announcement is suppressed.
	DedupeWindow time.Duration
}

// NewListener creates a Listener for all interfaces.
func NewListener() *Listener {
	return &Listener{DedupeWindow: DefaultDedupeWindow}
}

// Listen binds the mDNS port, joins the multicast group and sends every
// decoded response on out until ctx ends. out is closed when listening stops.
func (l *Listener) Listen(ctx context.Context, out chan<- discovery.Announcement) error {
	conn, err := net.ListenMulticastUDP("udp4", l.Interface, &net.UDPAddr{IP: mdnsGroupIPv4, Port: mdnsPort})
	if err != nil {
		return fmt.Errorf("failed to listen for mDNS announcements: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		logging.Debug("Interface control messages unavailable", zap.Error(err))
	}
	if l.Interface == nil {
		l.joinAll(pc)
	}

	// Each session owns its dedupe cache so a restart never shares state
	// with a read loop that is still draining.
	seen := cache.New(l.window(), 2*l.window())

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(out)
		l.readLoop(ctx, pc, out, seen)
	}()
	return nil
}

func (l *Listener) window() time.Duration {
	if l.DedupeWindow <= 0 {
		return DefaultDedupeWindow
	}
	return l.DedupeWindow
}

func (l *Listener) joinAll(pc *ipv4.PacketConn) {
	ifaces, err := net.Interfaces()
	if err != nil {
		logging.Warn("Failed to list interfaces", zap.Error(err))
		return
	}

	group := &net.UDPAddr{IP: mdnsGroupIPv4}
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pc.JoinGroup(&iface, group); err != nil {
			// Already joined by ListenMulticastUDP on the default interface
			logging.Debug("Join group failed",
				zap.String("interface", iface.Name),
				zap.Error(err),
			)
		}
	}
}

func (l *Listener) readLoop(ctx context.Context, pc *ipv4.PacketConn, out chan<- discovery.Announcement, seen *cache.Cache) {
	buf := make([]byte, maxMessage)
	for {
		n, cm, src, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				logging.Warn("Announcement listener stopped", zap.Error(err))
			}
			return
		}

		msg := new(dns.Msg)
		if err := msg.Unpack(buf[:n]); err != nil {
			logging.Debug("Ignoring undecodable mDNS packet", zap.Error(err))
			continue
		}
		if !msg.Response {
			continue
		}

		var srcIP net.IP
		if udp, ok := src.(*net.UDPAddr); ok {
			srcIP = udp.IP
		}
		host := hostFromMessage(msg, srcIP)
		if host == nil || duplicate(seen, host) {
			continue
		}

		ifIndex := 0
		if cm != nil {
			ifIndex = cm.IfIndex
		}
		a := discovery.Announcement{Adapter: adapterFor(ifIndex), Host: host}

		select {
		case out <- a:
		case <-ctx.Done():
			return
		}
	}
}

// duplicate reports whether an identical announcement was seen within the
// dedupe window, recording this one otherwise.
func duplicate(seen *cache.Cache, host *discovery.Host) bool {
	return seen.Add(fingerprint(host), struct{}{}, cache.DefaultExpiration) != nil
}

func fingerprint(host *discovery.Host) string {
	var sb strings.Builder
	sb.WriteString(host.IPAddress)
	for _, key := range host.ServiceKeys() {
		svc := host.Services[key]
		sb.WriteString("|" + key + ":" + strconv.Itoa(svc.Port) + ":" + strconv.Itoa(svc.TTL) + ":" + svc.Name)
	}
	return sb.String()
}

func adapterFor(ifIndex int) discovery.AdapterInfo {
	if ifIndex <= 0 {
		return discovery.AdapterInfo{Name: "unknown"}
	}
	iface, err := net.InterfaceByIndex(ifIndex)
	if err != nil {
		return discovery.AdapterInfo{Name: "if" + strconv.Itoa(ifIndex)}
	}

	info := discovery.AdapterInfo{Name: iface.Name}
	if addrs, err := iface.Addrs(); err == nil {
		if ip := firstIPv4(addrs); ip != nil {
			info.Address = ip.String()
		}
	}
	return info
}

type srvInfo struct {
	name     string
	instance string
	service  string
	target   string
	port     int
	ttl      int
}

// hostFromMessage builds a Host from the records of one mDNS response.
// Services come from SRV records, properties from TXT records and the
// address from A/AAAA records for the SRV target, falling back to the
// packet source. Returns nil if the message names neither a service nor
// an address.
func hostFromMessage(msg *dns.Msg, src net.IP) *discovery.Host {
	records := make([]dns.RR, 0, len(msg.Answer)+len(msg.Extra))
	records = append(records, msg.Answer...)
	records = append(records, msg.Extra...)

	addrs := make(map[string][]string)
	txts := make(map[string][]string)
	var srvs []srvInfo
	var hostNames []string

	for _, rr := range records {
		switch rec := rr.(type) {
		case *dns.A:
			name := strings.ToLower(rec.Hdr.Name)
			if _, ok := addrs[name]; !ok {
				hostNames = append(hostNames, rec.Hdr.Name)
			}
			addrs[name] = append(addrs[name], rec.A.String())
		case *dns.AAAA:
			name := strings.ToLower(rec.Hdr.Name)
			if _, ok := addrs[name]; !ok {
				hostNames = append(hostNames, rec.Hdr.Name)
			}
			addrs[name] = append(addrs[name], rec.AAAA.String())
		case *dns.TXT:
			txts[strings.ToLower(rec.Hdr.Name)] = rec.Txt
		case *dns.SRV:
			instance, service, ok := splitInstanceName(rec.Hdr.Name)
			if !ok {
				continue
			}
			srvs = append(srvs, srvInfo{
				name:     rec.Hdr.Name,
				instance: instance,
				service:  service,
				target:   rec.Target,
				port:     int(rec.Port),
				ttl:      int(rec.Hdr.Ttl),
			})
		}
	}

	if len(srvs) == 0 && len(addrs) == 0 {
		return nil
	}

	host := &discovery.Host{Services: make(map[string]*discovery.Service)}

	var hostName string
	if len(srvs) > 0 {
		hostName = srvs[0].target
	} else {
		hostName = hostNames[0]
	}
	host.ID = hostName
	host.IPAddresses = addrs[strings.ToLower(hostName)]
	if len(host.IPAddresses) == 0 {
		for _, name := range hostNames {
			host.IPAddresses = append(host.IPAddresses, addrs[strings.ToLower(name)]...)
		}
	}
	sort.SliceStable(host.IPAddresses, func(i, j int) bool {
		return isIPv4(host.IPAddresses[i]) && !isIPv4(host.IPAddresses[j])
	})
	if len(host.IPAddresses) > 0 {
		host.IPAddress = host.IPAddresses[0]
	} else if src != nil {
		host.IPAddress = src.String()
		host.IPAddresses = []string{host.IPAddress}
	}

	for _, srv := range srvs {
		host.Services[srv.service] = &discovery.Service{
			Name:       unescapeName(srv.instance),
			Port:       srv.port,
			TTL:        srv.ttl,
			Properties: parseTXT(txts[strings.ToLower(srv.name)]),
		}
		if host.DisplayName == "" {
			host.DisplayName = unescapeName(srv.instance)
		}
	}
	if host.DisplayName == "" {
		host.DisplayName = strings.TrimSuffix(hostName, ".")
	}

	return host
}

// splitInstanceName splits "My\ Printer._ipp._tcp.local." into the raw
// instance label and the service type "_ipp._tcp".
func splitInstanceName(name string) (instance, service string, ok bool) {
	labels := dns.SplitDomainName(name)
	for i := 1; i+1 < len(labels); i++ {
		proto := labels[i+1]
		if strings.HasPrefix(labels[i], "_") && (proto == "_tcp" || proto == "_udp") {
			return strings.Join(labels[:i], "."), labels[i] + "." + proto, true
		}
	}
	return "", "", false
}

func isIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

// unescapeName reverses DNS presentation escaping: "\ " and "\." become
// the literal character and "\DDD" a decimal byte.
func unescapeName(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b = append(b, s[i])
			continue
		}
		if i+3 < len(s) && isDigit(s[i+1]) && isDigit(s[i+2]) && isDigit(s[i+3]) {
			if v, err := strconv.Atoi(s[i+1 : i+4]); err == nil && v < 256 {
				b = append(b, byte(v))
				i += 3
				continue
			}
		}
		b = append(b, s[i+1])
		i++
	}
	return string(b)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
