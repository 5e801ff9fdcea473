package dispatch

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"prativedak/internal/model"
)

const TimeLayout = "2006-01-02T15:04:05"

// FormatMessage renders the alert sent to every contact. Coordinates use
// six decimals; an unknown location replaces both location lines.
func FormatMessage(userName string, at time.Time, loc *model.Location, appName string) string {
	var b strings.Builder
	b.WriteString("🚨 AUTOMATIC EMERGENCY ALERT 🚨\n\n")
	fmt.Fprintf(&b, "User: %s\n", userName)
	fmt.Fprintf(&b, "Time: %s\n", at.Local().Format(TimeLayout))
	if loc.Known() {
		fmt.Fprintf(&b, "Location: %.6f, %.6f\n", loc.Latitude, loc.Longitude)
		fmt.Fprintf(&b, "Map: https://maps.google.com/?q=%.6f,%.6f\n", loc.Latitude, loc.Longitude)
	} else {
		b.WriteString("Location unavailable\n")
	}
	fmt.Fprintf(&b, "\nThis is an AUTOMATIC alert from %s. The user may be in danger and unable to respond.", appName)
	return b.String()
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func dialerURL(phone string) string {
	return "tel:" + phone
}

func smsURL(phone, body string) string {
	return "sms:" + phone + "?body=" + escape(body)
}

func messagingAppURL(number, body string) string {
	return "whatsapp://send?phone=" + number + "&text=" + escape(body)
}

func messagingWebURL(number, body string) string {
	return "https://wa.me/" + number + "?text=" + escape(body)
}
