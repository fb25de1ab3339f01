package enricher

import (
	"net"
	"strings"

	"github.com/mssola/useragent"
	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog/log"

	"github.com/codementor/integrity/internal/telemetry"
)

// Enricher derives client metadata attached to every record of a request.
type Enricher struct {
	geoIP *geoip2.Reader
}

func NewEnricher(geoIPPath string) *Enricher {
	var geoIP *geoip2.Reader
	if geoIPPath != "" {
		var err error
		geoIP, err = geoip2.Open(geoIPPath)
		if err != nil {
			log.Warn().Err(err).Str("path", geoIPPath).Msg("GeoIP database unavailable, skipping location lookup")
		}
	}

	return &Enricher{
		geoIP: geoIP,
	}
}

// ClientInfo parses the user agent and looks up the client IP. It returns nil when
// nothing could be derived.
func (e *Enricher) ClientInfo(userAgentString, clientIP string) *telemetry.ClientInfo {
	if e == nil {
		return nil
	}
	info := &telemetry.ClientInfo{}

	if userAgentString != "" {
		ua := useragent.New(userAgentString)
		info.Browser, info.BrowserVersion = ua.Browser()
		info.OS = ua.OS()
		info.DeviceType = getDeviceType(ua)
	}

	if e.geoIP != nil && clientIP != "" {
		if ip := net.ParseIP(hostOnly(clientIP)); ip != nil {
			record, err := e.geoIP.City(ip)
			if err == nil {
				info.Country = record.Country.IsoCode
				if name, ok := record.City.Names["en"]; ok {
					info.City = name
				}
			}
		}
	}

	if *info == (telemetry.ClientInfo{}) {
		return nil
	}
	return info
}

// hostOnly strips a port and takes the first hop of an X-Forwarded-For list.
func hostOnly(addr string) string {
	if i := strings.IndexByte(addr, ','); i >= 0 {
		addr = addr[:i]
	}
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func getDeviceType(ua *useragent.UserAgent) string {
	if ua.Mobile() {
		return "mobile"
	}
	if ua.Bot() {
		return "bot"
	}
	return "desktop"
}

func (e *Enricher) Close() {
	if e != nil && e.geoIP != nil {
		e.geoIP.Close()
	}
}
