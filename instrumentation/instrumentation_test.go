package instrumentation

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/giantswarm/tenant-oauth/internal/testutil"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{name: "disabled", config: Config{}},
		{name: "enabled with globals", config: Config{Enabled: true}},
		{name: "with service name and version", config: Config{Enabled: true, ServiceName: "svc", ServiceVersion: "1.0.0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := New(tt.config)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer func() { _ = inst.Shutdown(context.Background()) }()

			if inst.Metrics() == nil {
				t.Fatal("Metrics() returned nil")
			}
			if inst.Meter("credential") == nil {
				t.Error("Meter() returned nil")
			}
			if inst.Tracer("credential") == nil {
				t.Error("Tracer() returned nil")
			}
			if inst.Resource() == nil {
				t.Error("Resource() returned nil")
			}
		})
	}
}

func TestNew_DefaultServiceName(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if inst.config.ServiceName != DefaultServiceName {
		t.Errorf("ServiceName = %q, want %q", inst.config.ServiceName, DefaultServiceName)
	}
	if inst.config.ServiceVersion != DefaultServiceVersion {
		t.Errorf("ServiceVersion = %q, want %q", inst.config.ServiceVersion, DefaultServiceVersion)
	}
}

func TestNew_DisabledIgnoresProviders(t *testing.T) {
	mp, reader := testutil.NewMeterProvider()

	inst, err := New(Config{Enabled: false, MeterProvider: mp})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	inst.Metrics().RecordRefreshShared(context.Background())

	if got := testutil.CounterValue(t, reader, "oauth.token.refresh.shared"); got != 0 {
		t.Errorf("disabled instrumentation recorded %d, want 0", got)
	}
}

func TestRegisterStorageSizeCallbacks(t *testing.T) {
	mp, reader := testutil.NewMeterProvider()
	inst, err := New(Config{Enabled: true, MeterProvider: mp})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = inst.RegisterStorageSizeCallbacks(
		func() int64 { return 3 },
		func() int64 { return 2 },
	)
	if err != nil {
		t.Fatalf("RegisterStorageSizeCallbacks() error = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "storage.records" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Gauge[int64]).DataPoints {
				v, _ := dp.Attributes.Value("type")
				got[v.AsString()] = dp.Value
			}
		}
	}
	if got["token"] != 3 || got["tenant_config"] != 2 {
		t.Errorf("storage.records = %v, want token=3 tenant_config=2", got)
	}

	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	// Second shutdown is a no-op
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestDisabled(t *testing.T) {
	inst := Disabled()
	if inst == nil || inst.Metrics() == nil {
		t.Fatal("Disabled() returned unusable instrumentation")
	}
	inst.Metrics().RecordLegacyFallback(context.Background())
}
