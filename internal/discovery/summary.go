package discovery

import "strings"

// DeviceClass is a coarse classification derived from the service type,
// used only to choose a display icon.
type DeviceClass string

const (
	ClassPrinter      DeviceClass = "printer"
	ClassHTTP         DeviceClass = "http"
	ClassScanner      DeviceClass = "scanner"
	ClassNvidia       DeviceClass = "nvidia"
	ClassApple        DeviceClass = "apple"
	ClassCloudPrinter DeviceClass = "cloud-printer"
	ClassSMBShare     DeviceClass = "smb-share"
	ClassUnknown      DeviceClass = "unknown"
)

// classSignatures is checked in order; the first matching prefix wins.
var classSignatures = []struct {
	class    DeviceClass
	prefixes []string
}{
	{ClassPrinter, []string{"_printer.", "_pdl-datastream.", "_ipp.", "_ipps."}},
	{ClassHTTP, []string{"_http."}},
	{ClassScanner, []string{"_scanner.", "_uscans.", "_uscan."}},
	{ClassNvidia, []string{"_nvstream_dbd."}},
	{ClassApple, []string{"_companion-link."}},
	{ClassCloudPrinter, []string{"_privet."}},
	{ClassSMBShare, []string{"_smb."}},
}

// Classify maps a service instance id such as "_ipp._tcp" to a DeviceClass.
func Classify(id string) DeviceClass {
	for _, sig := range classSignatures {
		for _, prefix := range sig.prefixes {
			if strings.HasPrefix(id, prefix) {
				return sig.class
			}
		}
	}
	return ClassUnknown
}

// Icon returns a terminal glyph for the class.
func (c DeviceClass) Icon() string {
	switch c {
	case ClassPrinter:
		return "🖨"
	case ClassHTTP:
		return "🌐"
	case ClassScanner:
		return "📠"
	case ClassNvidia:
		return "🎮"
	case ClassApple:
		return "🍎"
	case ClassCloudPrinter:
		return "☁"
	case ClassSMBShare:
		return "📁"
	default:
		return "❔"
	}
}

// DeviceSummary is the read-only projection of a DeviceRecord handed to
// consumers. It is computed on demand and never stored.
type DeviceSummary struct {
	Key         string      `json:"key"`
	DisplayName string      `json:"display_name"`
	Domain      string      `json:"domain"`
	ServiceType string      `json:"service_type"`
	Class       DeviceClass `json:"class"`
	Expired     bool        `json:"expired"`
}

// StripServiceSuffix removes a trailing ":n" suffix from a service type.
func StripServiceSuffix(serviceType string) string {
	if i := strings.LastIndex(serviceType, ":"); i > 0 {
		return serviceType[:i]
	}
	return serviceType
}

func summarize(r *DeviceRecord) DeviceSummary {
	return DeviceSummary{
		Key:         r.Key,
		DisplayName: r.DisplayName,
		Domain:      r.Domain,
		ServiceType: StripServiceSuffix(r.ServiceType),
		Class:       Classify(r.ServiceInstanceID),
		Expired:     r.Expired,
	}
}
