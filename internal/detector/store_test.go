// internal/detector/store_test.go
package detector

import (
	"testing"
	"time"

	"github.com/signalnine/auspex/internal/protocol"
)

func TestStoreInsertAndQuery(t *testing.T) {
	store := testStore(t)

	evidence := &protocol.MetricSample{
		Host: "web1", Timestamp: time.Now().UTC(), Kind: protocol.KindNetwork,
		SourceIP: "6.6.6.6", DestIP: "10.0.0.9", Packets: 1,
	}
	rec := protocol.NewAnomaly("web1", protocol.TypeConnFlood, 0.8, "High number of connections from 6.6.6.6: 80", evidence)
	rec.AddData("source_ip", "6.6.6.6")
	rec.AddData("connection_count", 80)

	if err := store.InsertAnomaly(rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.QueryByHost("web1", 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}

	out := got[0]
	if out.ID != rec.ID || out.Type != protocol.TypeConnFlood || out.Severity != protocol.SeverityHigh {
		t.Errorf("record mismatch: %+v", out)
	}
	if out.Score != 0.8 {
		t.Errorf("score = %v, want 0.8", out.Score)
	}
	if out.Data["source_ip"] != "6.6.6.6" {
		t.Errorf("data round trip lost source_ip: %v", out.Data)
	}
	if out.Evidence == nil || out.Evidence.SourceIP != "6.6.6.6" {
		t.Errorf("evidence round trip failed: %+v", out.Evidence)
	}
}

func TestStoreInsertIsIdempotentByID(t *testing.T) {
	store := testStore(t)
	rec := protocol.NewAnomaly("web1", protocol.TypeHighCPU, 0.95, "", nil)

	if err := store.InsertAnomaly(rec); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	rec.AddData("ip_blocked", "6.6.6.6")
	if err := store.InsertAnomaly(rec); err != nil {
		t.Fatalf("second insert: %v", err)
	}

	got, err := store.QueryRecent(10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("re-insert duplicated the record: %d rows", len(got))
	}
	if got[0].Data["ip_blocked"] != "6.6.6.6" {
		t.Errorf("re-insert did not update the row: %v", got[0].Data)
	}
}

func TestStoreQueryRecentOrder(t *testing.T) {
	store := testStore(t)
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		rec := protocol.NewAnomaly("web1", protocol.TypeHighCPU, 0.95, "", nil)
		rec.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := store.InsertAnomaly(rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := store.QueryRecent(2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if !got[0].Timestamp.After(got[1].Timestamp) {
		t.Errorf("expected newest first: %v then %v", got[0].Timestamp, got[1].Timestamp)
	}
}

func TestStoreQueryBySeverity(t *testing.T) {
	store := testStore(t)
	for _, score := range []float64{0.95, 0.75, 0.55, 0.2} {
		if err := store.InsertAnomaly(protocol.NewAnomaly("web1", protocol.TypeHighCPU, score, "", nil)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := store.QueryBySeverity(protocol.SeverityHigh, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("HIGH+: got %d records, want 2", len(got))
	}
	for _, rec := range got {
		if rec.Severity != protocol.SeverityHigh && rec.Severity != protocol.SeverityCritical {
			t.Errorf("unexpected severity %s", rec.Severity)
		}
	}

	got, err = store.QueryBySeverity("bogus", 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("unknown severity should match everything, got %d", len(got))
	}
}

func TestStoreSeverityCounts(t *testing.T) {
	store := testStore(t)
	for _, score := range []float64{0.95, 0.95, 0.75, 0.55, 0.2} {
		if err := store.InsertAnomaly(protocol.NewAnomaly("web1", protocol.TypeHighCPU, score, "", nil)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	counts, err := store.SeverityCounts()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	want := map[string]int{
		protocol.SeverityCritical: 2,
		protocol.SeverityHigh:     1,
		protocol.SeverityMedium:   1,
		protocol.SeverityLow:      1,
	}
	for sev, n := range want {
		if counts[sev] != n {
			t.Errorf("counts[%s] = %d, want %d", sev, counts[sev], n)
		}
	}
}
