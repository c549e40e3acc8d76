package caa

import (
	"context"
	"io"
	"log"
	"net"
	"testing"
	"time"

	"github.com/letsencrypt/challtestsrv"
	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const identity = "pebble-pki.invalid"

func freeUDPAddr(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())
	return addr
}

func startServer(t *testing.T) (*challtestsrv.ChallSrv, string) {
	t.Helper()
	addr := freeUDPAddr(t)
	srv, err := challtestsrv.New(challtestsrv.Config{
		DNSAddrs: []string{addr},
		Log:      log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	srv.Run()
	t.Cleanup(srv.Shutdown)

	client := new(dns.Client)
	require.Eventually(t, func() bool {
		m := new(dns.Msg)
		m.SetQuestion("ready.invalid.", dns.TypeA)
		_, _, err := client.Exchange(m, addr)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	return srv, addr
}

func TestCheck(t *testing.T) {
	srv, addr := startServer(t)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	c := New(addr, identity, logrus.NewEntry(logger))
	ctx := context.Background()

	srv.AddDNSCAARecord("permitted.example", []challtestsrv.CAAPolicy{{Tag: "issue", Value: identity + "; account=1"}})
	srv.AddDNSCAARecord("other-ca.example", []challtestsrv.CAAPolicy{{Tag: "issue", Value: "ca.invalid"}})
	srv.AddDNSCAARecord("nobody.example", []challtestsrv.CAAPolicy{{Tag: "issue", Value: ";"}})
	srv.AddDNSCAARecord("wild.example", []challtestsrv.CAAPolicy{
		{Tag: "issue", Value: identity},
		{Tag: "issuewild", Value: "ca.invalid"},
	})
	srv.AddDNSCAARecord("iodef-only.example", []challtestsrv.CAAPolicy{{Tag: "iodef", Value: "mailto:security@example.com"}})

	tests := []struct {
		name      string
		forbidden bool
	}{
		{"no-records.example", false},
		{"permitted.example", false},
		{"sub.permitted.example", false},
		{"other-ca.example", true},
		{"deep.sub.other-ca.example", true},
		{"nobody.example", true},
		{"wild.example", false},
		{"*.wild.example", true},
		{"*.permitted.example", false},
		{"iodef-only.example", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := c.Check(ctx, []string{tc.name})
			if tc.forbidden {
				assert.ErrorIs(t, err, ErrForbidden)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	err := c.Check(ctx, []string{"permitted.example", "other-ca.example"})
	var fe *ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "other-ca.example", fe.Domain)
	assert.NotEmpty(t, hook.AllEntries())
}

func TestCheckFailsClosed(t *testing.T) {
	srv, addr := startServer(t)
	c := New(addr, identity, nil)

	srv.AddDNSServFailRecord("broken.example")
	err := c.Check(context.Background(), []string{"broken.example"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrForbidden)
}

func TestEvaluateCriticalUnknownTag(t *testing.T) {
	c := New("", identity, nil)
	records := []*dns.CAA{
		{Flag: 128, Tag: "tbs", Value: "x"},
		{Tag: "issue", Value: identity},
	}
	assert.NotEmpty(t, c.evaluate(records, false))

	records[0].Flag = 0
	assert.Empty(t, c.evaluate(records, false))
}
