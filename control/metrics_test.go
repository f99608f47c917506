// control/metrics_test.go
// Author: momentics <momentics@gmail.com>

package control

import "testing"

func TestMetricsRegistryIncAndSnapshot(t *testing.T) {
	mr := NewMetricsRegistry()

	if got := mr.Inc("c", 1); got != 1 {
		t.Fatalf("first Inc = %d, want 1", got)
	}
	if got := mr.Inc("c", 2); got != 3 {
		t.Fatalf("second Inc = %d, want 3", got)
	}
	mr.Set("gauge", "idle")

	snap := mr.GetSnapshot()
	if snap["c"] != int64(3) || snap["gauge"] != "idle" {
		t.Errorf("unexpected snapshot: %v", snap)
	}
	if mr.LastUpdated().IsZero() {
		t.Error("expected LastUpdated to be set")
	}
}

func TestConfigStoreReloadPropagation(t *testing.T) {
	cs := NewConfigStore()
	cs.SetConfig(map[string]any{"trace": true})

	if v, ok := cs.GetBool("trace"); !ok || !v {
		t.Fatalf("GetBool = %v %v", v, ok)
	}
	if _, ok := cs.GetBool("missing"); ok {
		t.Error("expected missing key to report absent")
	}

	fired := false
	RegisterReloadHook(func() { fired = true })
	TriggerHotReloadSync()
	if !fired {
		t.Error("expected reload hook to fire synchronously")
	}
}
