package domaininspect

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"github.com/miekg/dns"
	"github.com/smallbiznis/sendora/internal/providers/domainauth"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	queryTimeout       = 5 * time.Second
	expiryWarningDays  = 30
	fallbackNameserver = "8.8.8.8:53"
)

// Observation reports what the resolver currently sees for one expected
// DNS record.
type Observation struct {
	Name     string   `json:"name"`
	Host     string   `json:"host"`
	Expected string   `json:"expected"`
	Observed []string `json:"observed,omitempty"`
	Found    bool     `json:"found"`
	Match    bool     `json:"match"`
}

// Intel summarizes WHOIS facts about a sending domain's registration.
type Intel struct {
	Registrar    string     `json:"registrar,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	DaysToExpiry int        `json:"daysToExpiry,omitempty"`
	Warning      string     `json:"warning,omitempty"`
}

// Inspector probes live DNS and WHOIS state. Every probe is best-effort
// diagnostics for tenants debugging their setup; failures never block the
// verification workflow.
type Inspector struct {
	client     *dns.Client
	nameserver string
	whois      *whois.Client
	log        *zap.Logger
}

type Params struct {
	fx.In

	Log *zap.Logger
}

func New(p Params) *Inspector {
	nameserver := fallbackNameserver
	if conf, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(conf.Servers) > 0 {
		nameserver = net.JoinHostPort(conf.Servers[0], conf.Port)
	}
	return &Inspector{
		client:     &dns.Client{Timeout: queryTimeout},
		nameserver: nameserver,
		whois:      whois.NewClient().SetTimeout(queryTimeout),
		log:        p.Log.Named("domaininspect"),
	}
}

// InspectRecords probes each expected record and reports whether the live
// answer matches what the provider asked the tenant to create.
func (i *Inspector) InspectRecords(ctx context.Context, records []domainauth.DNSRecord) []Observation {
	observations := make([]Observation, 0, len(records))
	for _, record := range records {
		observations = append(observations, i.inspectOne(ctx, record))
	}
	return observations
}

func (i *Inspector) inspectOne(ctx context.Context, record domainauth.DNSRecord) Observation {
	obs := Observation{
		Name:     record.Name,
		Host:     record.Host,
		Expected: record.Value,
	}

	qtype := dns.TypeCNAME
	if strings.EqualFold(record.Type, "TXT") {
		qtype = dns.TypeTXT
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(record.Host), qtype)

	reply, _, err := i.client.ExchangeContext(ctx, msg, i.nameserver)
	if err != nil || reply == nil {
		i.log.Debug("dns probe failed",
			zap.String("host", record.Host),
			zap.Error(err),
		)
		return obs
	}

	for _, answer := range reply.Answer {
		switch rr := answer.(type) {
		case *dns.CNAME:
			obs.Observed = append(obs.Observed, strings.TrimSuffix(rr.Target, "."))
		case *dns.TXT:
			obs.Observed = append(obs.Observed, strings.Join(rr.Txt, ""))
		}
	}
	obs.Found = len(obs.Observed) > 0

	expected := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(record.Value), "."))
	for _, seen := range obs.Observed {
		if strings.ToLower(seen) == expected {
			obs.Match = true
			break
		}
	}
	return obs
}

// DomainIntel fetches WHOIS data for the registrable domain and extracts
// registrar and expiry facts.
func (i *Inspector) DomainIntel(ctx context.Context, domain string) (*Intel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := i.whois.Whois(domain)
	if err != nil {
		return nil, fmt.Errorf("whois lookup failed: %w", err)
	}
	parsed, err := whoisparser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("whois parse failed: %w", err)
	}
	return intelFrom(parsed, time.Now()), nil
}

func intelFrom(parsed whoisparser.WhoisInfo, now time.Time) *Intel {
	intel := &Intel{}
	if parsed.Registrar != nil {
		intel.Registrar = strings.TrimSpace(parsed.Registrar.Name)
	}
	if parsed.Domain == nil {
		return intel
	}

	expiry := parsed.Domain.ExpirationDateInTime
	if expiry == nil && parsed.Domain.ExpirationDate != "" {
		if t, err := parseWhoisDate(parsed.Domain.ExpirationDate); err == nil {
			expiry = &t
		}
	}
	if expiry == nil {
		return intel
	}

	intel.ExpiresAt = expiry
	intel.DaysToExpiry = int(expiry.Sub(now).Hours() / 24)
	if intel.DaysToExpiry >= 0 && intel.DaysToExpiry < expiryWarningDays {
		intel.Warning = fmt.Sprintf("domain registration expires in %d days", intel.DaysToExpiry)
	}
	return intel
}

func parseWhoisDate(value string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"02-Jan-2006",
		"2006.01.02 15:04:05",
		"2006/01/02",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", value)
}

var Module = fx.Module("domaininspect",
	fx.Provide(New),
)
