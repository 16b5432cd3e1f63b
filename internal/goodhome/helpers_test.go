package goodhome

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goodhome/internal/clock"
	"goodhome/pkg/testutil"
)

var testStart = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func newMock(t *testing.T) *testutil.MockGoodHome {
	t.Helper()
	mock := testutil.NewMockGoodHome()
	t.Cleanup(mock.Close)
	return mock
}

func newTestClient(t *testing.T, mock *testutil.MockGoodHome) (*Client, *clock.MockClock) {
	t.Helper()
	clk := clock.NewMockClock(testStart)
	client := NewClient(Config{
		BaseURL:  mock.URL(),
		Email:    testutil.MockEmail,
		Password: testutil.MockPassword,
		Timeout:  2 * time.Second,
	}, zap.NewNop(), WithClock(clk))
	return client, clk
}

// loggedInClient returns a client holding T1/R1 with requests reset
func loggedInClient(t *testing.T, mock *testutil.MockGoodHome) (*Client, *clock.MockClock) {
	t.Helper()
	client, clk := newTestClient(t, mock)
	require.True(t, client.Login(context.Background()))
	mock.ResetRequests()
	return client, clk
}
