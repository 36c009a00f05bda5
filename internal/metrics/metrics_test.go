package metrics

import "testing"

func TestNewMetrics(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New returned nil")
	}
	if m.Registry == nil {
		t.Fatal("Registry is nil")
	}
}

func TestMetricsIsolation(t *testing.T) {
	m1 := New()
	m2 := New()

	m1.ServiceRegistered("PUB")

	families, err := m2.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() == "colugo_services_registered_total" {
			for _, metric := range f.GetMetric() {
				if metric.GetCounter().GetValue() != 0 {
					t.Error("m2 registry saw m1 counter value; registries are not isolated")
				}
			}
		}
	}
}

func TestNilMetricsIsInert(t *testing.T) {
	var m *Metrics
	m.ServiceRegistered("PUB")
	m.ServiceWithdrawn("REP")
	m.ServiceDiscovered("SUB")
	m.RequestTimeout("topic")
	m.SocketRecycled("REQ")
	m.MDNSQueryFailed()
	m.SetDirectorySize("servers", 3)
}

func TestMetricsCounters(t *testing.T) {
	m := New()
	m.ServiceRegistered("PUB")
	m.ServiceWithdrawn("PUB")
	m.ServiceDiscovered("SUB")
	m.RequestTimeout("echo")
	m.SocketRecycled("REQ")
	m.MDNSQueryFailed()
	m.SetDirectorySize("servers", 2)

	mfs, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected metric families after recording")
	}
}
