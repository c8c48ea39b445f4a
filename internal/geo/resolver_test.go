package geo

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const table = `# cidr,country
10.0.0.0/8,us
10.20.0.0/16,FR
2001:db8::/32,DE
`

func TestTableResolverLongestPrefixWins(t *testing.T) {
	r, err := NewTableResolver(strings.NewReader(table))
	require.NoError(t, err)

	cases := map[string]string{
		"10.1.2.3":         "US",
		"10.20.1.1:443":    "FR",
		"[2001:db8::1]:80": "DE",
		"192.168.1.1":      "",
		"not-an-address":   "",
		"::ffff:10.20.9.9": "FR",
	}
	for addr, want := range cases {
		got, err := r.CountryOf(context.Background(), addr)
		require.NoError(t, err)
		assert.Equal(t, want, got, addr)
	}
}

func TestTableResolverRejectsBadRows(t *testing.T) {
	_, err := NewTableResolver(strings.NewReader("10.0.0.0/8,USA\n"))
	require.Error(t, err)

	_, err = NewTableResolver(strings.NewReader("10.0.0.0/33,US\n"))
	require.Error(t, err)
}

type countingResolver struct {
	calls int
}

func (c *countingResolver) CountryOf(context.Context, string) (string, error) {
	c.calls++
	return "GB", nil
}

func TestCachedResolverStripsPortBeforeCaching(t *testing.T) {
	next := &countingResolver{}
	r := NewCachedResolver(next, 16, time.Minute)

	for _, addr := range []string{"203.0.113.7:1000", "203.0.113.7:2000", "203.0.113.7"} {
		code, err := r.CountryOf(context.Background(), addr)
		require.NoError(t, err)
		assert.Equal(t, "GB", code)
	}
	assert.Equal(t, 1, next.calls)
}
