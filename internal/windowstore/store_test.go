package windowstore

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// testRedisContainer spins up a real redis:7-alpine container so the Lua
// scripts that drive every atomic operation run against the real thing.
type testRedisContainer struct {
	container testcontainers.Container
	addr      string
}

func newTestRedisContainer(ctx context.Context, t *testing.T) *testRedisContainer {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in -short mode")
	}

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("docker unavailable, skipping: %v", err)
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return &testRedisContainer{container: container, addr: host + ":" + port.Port()}
}

func (c *testRedisContainer) terminate(ctx context.Context) {
	_ = c.container.Terminate(ctx)
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l.WithField("test", true)
}

func TestAddAmountToWindow_CumulativeAndEviction(t *testing.T) {
	ctx := context.Background()
	rc := newTestRedisContainer(ctx, t)
	defer rc.terminate(ctx)

	store := New(rc.addr, "", 0, 10, testLogger())
	defer store.Close()

	// S2: insert buys of 100, 100, 150 at ts=1000,1100,1200, window=3600
	sum, err := store.AddAmountToWindow(ctx, "M", "buy", 100, 1000, 3600)
	require.NoError(t, err)
	require.Equal(t, float64(100), sum)

	sum, err = store.AddAmountToWindow(ctx, "M", "buy", 100, 1100, 3600)
	require.NoError(t, err)
	require.Equal(t, float64(200), sum)

	sum, err = store.AddAmountToWindow(ctx, "M", "buy", 150, 1200, 3600)
	require.NoError(t, err)
	require.Equal(t, float64(350), sum)

	// A later insert outside the window evicts the earlier entries.
	sum, err = store.AddAmountToWindow(ctx, "M", "buy", 50, 1200+3600+1, 3600)
	require.NoError(t, err)
	require.Equal(t, float64(50), sum)
}

func TestCumulativeAmount_DoesNotInsert(t *testing.T) {
	ctx := context.Background()
	rc := newTestRedisContainer(ctx, t)
	defer rc.terminate(ctx)

	store := New(rc.addr, "", 0, 10, testLogger())
	defer store.Close()

	_, err := store.AddAmountToWindow(ctx, "M", "sell", 400, 1000, 3600)
	require.NoError(t, err)

	sum, err := store.CumulativeAmount(ctx, "M", "sell", 1000, 3600)
	require.NoError(t, err)
	require.Equal(t, float64(400), sum)

	// Reading again must not duplicate the entry.
	sum, err = store.CumulativeAmount(ctx, "M", "sell", 1000, 3600)
	require.NoError(t, err)
	require.Equal(t, float64(400), sum)
}

func TestCooldown_SetAndExpire(t *testing.T) {
	ctx := context.Background()
	rc := newTestRedisContainer(ctx, t)
	defer rc.terminate(ctx)

	store := New(rc.addr, "", 0, 10, testLogger())
	defer store.Close()

	key := "M:buy:cumulative"

	in, err := store.IsInCooldown(ctx, key)
	require.NoError(t, err)
	require.False(t, in)

	require.NoError(t, store.SetCooldown(ctx, key, 1))

	in, err = store.IsInCooldown(ctx, key)
	require.NoError(t, err)
	require.True(t, in)

	time.Sleep(1200 * time.Millisecond)

	in, err = store.IsInCooldown(ctx, key)
	require.NoError(t, err)
	require.False(t, in)
}

func TestSequentialSells_IncrementAndReset(t *testing.T) {
	ctx := context.Background()
	rc := newTestRedisContainer(ctx, t)
	defer rc.terminate(ctx)

	store := New(rc.addr, "", 0, 10, testLogger())
	defer store.Close()

	wallet := "W2"

	for i := int64(1); i <= 4; i++ {
		count, err := store.IncrementSequentialSells(ctx, wallet)
		require.NoError(t, err)
		require.Equal(t, i, count)
	}

	require.NoError(t, store.ResetSequentialSells(ctx, wallet))

	count, err := store.GetSequentialSells(ctx, wallet)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	count, err = store.IncrementSequentialSells(ctx, wallet)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestPing(t *testing.T) {
	ctx := context.Background()
	rc := newTestRedisContainer(ctx, t)
	defer rc.terminate(ctx)

	store := New(rc.addr, "", 0, 10, testLogger())
	defer store.Close()

	require.NoError(t, store.Ping(ctx))
}
