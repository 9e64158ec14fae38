package metrics

import (
	"testing"
	"time"
)

func gaugeValue(t *testing.T, g *Collector, name string) float64 {
	t.Helper()
	mfs, err := g.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
		}
	}
	return 0
}

func TestUpdatePoolStatsSetsGauges(t *testing.T) {
	c := New()
	c.UpdatePoolStats("localhost:27017", 3, 2)
	if v := gaugeValue(t, c, "docdriver_pool_connections_active"); v != 3 {
		t.Fatalf("expected active=3, got %v", v)
	}
	if v := gaugeValue(t, c, "docdriver_pool_connections_idle"); v != 2 {
		t.Fatalf("expected idle=2, got %v", v)
	}
}

func TestPoolClearedIncrementsCounter(t *testing.T) {
	c := New()
	c.PoolCleared("localhost:27017")
	c.PoolCleared("localhost:27017")
	if v := gaugeValue(t, c, "docdriver_pool_cleared_total"); v != 2 {
		t.Fatalf("expected cleared=2, got %v", v)
	}
}

func TestCommandCompletedRecordsDurationAndErrors(t *testing.T) {
	c := New()
	c.CommandCompleted("find", 5*time.Millisecond, "")
	c.CommandCompleted("find", 5*time.Millisecond, "network")
	if v := gaugeValue(t, c, "docdriver_command_errors_total"); v != 1 {
		t.Fatalf("expected exactly one recorded error, got %v", v)
	}
}

func TestRemoveServerClearsRows(t *testing.T) {
	c := New()
	c.UpdatePoolStats("localhost:27017", 1, 1)
	c.RemoveServer("localhost:27017")
	if v := gaugeValue(t, c, "docdriver_pool_connections_active"); v != 0 {
		t.Fatalf("expected the row to be gone (reads as 0), got %v", v)
	}
}
