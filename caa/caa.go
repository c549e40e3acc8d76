// Package caa checks DNS Certification Authority Authorization records
// (RFC 8659) before a certificate is issued for a domain name.
package caa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

const defaultTimeout = 5 * time.Second

// ErrForbidden is matched by every error saying a CAA record set does not
// authorize issuance.
var ErrForbidden = errors.New("caa: issuance forbidden")

type ForbiddenError struct {
	Name   string
	Domain string
	Reason string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("caa: %s: records at %s forbid issuance: %s", e.Name, e.Domain, e.Reason)
}

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }

// Checker queries a single recursive resolver. Identity is the
// issuer-domain-name this CA recognizes in issue and issuewild properties.
type Checker struct {
	Resolver string
	Identity string
	Timeout  time.Duration

	client *dns.Client
	log    *logrus.Entry
}

func New(resolver, identity string, log *logrus.Entry) *Checker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Checker{
		Resolver: resolver,
		Identity: identity,
		Timeout:  defaultTimeout,
		client:   new(dns.Client),
		log:      log,
	}
}

// Check returns nil only if every name may be issued for. A lookup that
// fails counts as a refusal.
func (c *Checker) Check(ctx context.Context, names []string) error {
	for _, name := range names {
		if err := c.checkName(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checker) checkName(ctx context.Context, name string) error {
	wildcard := strings.HasPrefix(name, "*.")
	domain := strings.TrimSuffix(strings.TrimPrefix(name, "*."), ".")

	for d := domain; d != ""; d = parent(d) {
		records, err := c.lookup(ctx, d)
		if err != nil {
			return fmt.Errorf("caa: looking up %s: %w", d, err)
		}
		if len(records) == 0 {
			continue
		}
		c.log.WithFields(logrus.Fields{"name": name, "domain": d, "records": len(records)}).Debug("Found CAA record set")
		if reason := c.evaluate(records, wildcard); reason != "" {
			return &ForbiddenError{Name: name, Domain: d, Reason: reason}
		}
		return nil
	}
	return nil
}

// evaluate returns why the record set forbids issuance, or "" if it
// permits it.
func (c *Checker) evaluate(records []*dns.CAA, wildcard bool) string {
	var issue, issueWild []*dns.CAA
	for _, r := range records {
		switch strings.ToLower(r.Tag) {
		case "issue":
			issue = append(issue, r)
		case "issuewild":
			issueWild = append(issueWild, r)
		case "iodef", "contactemail", "contactphone":
		default:
			if r.Flag&128 != 0 {
				return fmt.Sprintf("unknown critical property %q", r.Tag)
			}
		}
	}

	relevant := issue
	if wildcard && len(issueWild) > 0 {
		relevant = issueWild
	}
	if len(relevant) == 0 {
		return ""
	}
	for _, r := range relevant {
		if strings.EqualFold(issuerDomain(r.Value), c.Identity) {
			return ""
		}
	}
	return fmt.Sprintf("%s is not an authorized issuer", c.Identity)
}

// issuerDomain strips parameters from an issue property value.
func issuerDomain(value string) string {
	domain, _, _ := strings.Cut(value, ";")
	return strings.TrimSpace(domain)
}

func (c *Checker) lookup(ctx context.Context, domain string) ([]*dns.CAA, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	message := new(dns.Msg)
	message.SetQuestion(dns.Fqdn(domain), dns.TypeCAA)
	in, _, err := c.client.ExchangeContext(ctx, message, c.Resolver)
	if err != nil {
		return nil, err
	}
	if in.Rcode != dns.RcodeSuccess && in.Rcode != dns.RcodeNameError {
		return nil, fmt.Errorf("DNS lookup for %q returned %s", domain, dns.RcodeToString[in.Rcode])
	}

	var records []*dns.CAA
	for _, rr := range in.Answer {
		if caa, ok := rr.(*dns.CAA); ok {
			records = append(records, caa)
		}
	}
	return records, nil
}

func parent(domain string) string {
	_, rest, found := strings.Cut(domain, ".")
	if !found {
		return ""
	}
	return rest
}
