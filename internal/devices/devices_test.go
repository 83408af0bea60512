package devices

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargewatch/internal/config"
	"chargewatch/internal/ingest"
	"chargewatch/internal/model"
	"chargewatch/internal/registry"
	"chargewatch/internal/storage"
)

func dev(mac, vehicle string, ok bool) model.ChargeSession {
	return model.ChargeSession{
		Site:       "Baud",
		Start:      time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
		MACAddress: mac,
		Vehicle:    vehicle,
		Success:    ok,
	}
}

func TestCleanPrefix(t *testing.T) {
	cases := map[string]string{
		"0a:bb:cc": "A:BB:CC",
		"0:1b:2c:": "0:1B:2C:",
		"4e:5d:6f": "4E:5D:6F",
		" 0":       "0",
		"":         "",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanPrefix(in), "CleanPrefix(%q)", in)
	}
}

func TestRankFiltersAndGroups(t *testing.T) {
	sessions := []model.ChargeSession{
		dev("4E:5D:6F:01:02:03", "", true),
		dev("4E:5D:6F:AA:BB:CC", "", false),
		dev("4E:5D:6F:00:00:01", "", true),
		dev("4E:5D:6F:00:00:02", "Zoe", true), // identified
		dev("", "", true),                      // no device
		dev("  ", "", false),                   // blank device
		dev("0a:11:22:33:44:55", "", false),
	}
	ranks := Rank(sessions, 8, 10)
	require.Len(t, ranks, 2)
	assert.Equal(t, model.UnidentifiedDeviceRank{Rank: 1, Prefix: "4E:5D:6F", Sessions: 3, SuccessRate: 66.67}, ranks[0])
	assert.Equal(t, model.UnidentifiedDeviceRank{Rank: 2, Prefix: "A:11:22", Sessions: 1, SuccessRate: 0}, ranks[1])
}

func TestRankTiesAndTopN(t *testing.T) {
	var sessions []model.ChargeSession
	for i := 0; i < 12; i++ {
		mac := fmt.Sprintf("%02X:00:00:11:22:33", 0xB0+i)
		sessions = append(sessions, dev(mac, "", true))
	}
	sessions = append(sessions, dev("BB:00:00:99", "", false))

	ranks := Rank(sessions, 8, 10)
	require.Len(t, ranks, 10)
	assert.Equal(t, "BB:00:00", ranks[0].Prefix)
	assert.Equal(t, 2, ranks[0].Sessions)
	assert.Equal(t, 50.0, ranks[0].SuccessRate)
	assert.Equal(t, "B0:00:00", ranks[1].Prefix)
	assert.Equal(t, "B1:00:00", ranks[2].Prefix)
	for i, r := range ranks {
		assert.Equal(t, i+1, r.Rank)
	}
}

func TestRankEmpty(t *testing.T) {
	assert.Empty(t, Rank(nil, 0, 0))
}

func TestJobReplacesRanking(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewSQLite("file:"+filepath.Join(t.TempDir(), "devices.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Init(ctx))

	require.NoError(t, st.ReplaceRanking(ctx, []model.UnidentifiedDeviceRank{{Rank: 1, Prefix: "OLD", Sessions: 99}}))
	for _, s := range []model.ChargeSession{
		dev("aa:bb:cc:01", "", true),
		dev("aa:bb:cc:02", "", false),
		dev("dd:ee:ff:01", "Kona", true),
	} {
		require.NoError(t, st.InsertSession(ctx, s))
	}

	reader := ingest.NewReader(st, time.UTC, registry.Default(), nil)
	job := NewJob(config.DefaultConfig().Devices, reader, st, nil)
	res, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rows)

	got, err := st.ListRanking(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "AA:BB:CC", got[0].Prefix)
	assert.Equal(t, 2, got[0].Sessions)
	assert.Equal(t, 50.0, got[0].SuccessRate)
}
