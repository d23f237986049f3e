package services

import (
	"testing"
	"time"

	"klassenbuch_go/config"
)

type fixedStore int

func (f fixedStore) Len() int { return int(f) }

func TestCombineStatus(t *testing.T) {
	tests := []struct{ current, candidate, want string }{
		{overallStatusOK, overallStatusDegraded, overallStatusDegraded},
		{overallStatusDegraded, overallStatusOK, overallStatusDegraded},
		{overallStatusDegraded, overallStatusCritical, overallStatusCritical},
		{"bogus", overallStatusOK, overallStatusOK},
	}
	for _, tc := range tests {
		if got := combineStatus(tc.current, tc.candidate); got != tc.want {
			t.Fatalf("combineStatus(%q, %q) = %q, want %q", tc.current, tc.candidate, got, tc.want)
		}
	}
}

func TestHumanizeDuration(t *testing.T) {
	if got := humanizeDuration(26*time.Hour + 3*time.Minute + 4*time.Second); got != "1d 2h 3m 4s" {
		t.Fatalf("humanizeDuration = %q", got)
	}
	if got := humanizeDuration(0); got != "0s" {
		t.Fatalf("humanizeDuration(0) = %q", got)
	}
}

func TestHealthReportInSyntheticMode(t *testing.T) {
	prev := config.AppConfig
	config.AppConfig = &config.Config{AppEnv: "development", UseSyntheticData: true}
	defer func() { config.AppConfig = prev }()

	s := NewHealthService("", "")
	s.SetStore(fixedStore(24))
	s.SetClientCounter(func() int { return 3 })
	report := s.GetHealthReport()

	if report.Status != overallStatusOK {
		t.Fatalf("expected ok in synthetic mode, got %s: %+v", report.Status, report.Dependencies)
	}
	if report.Service != defaultServiceName || report.Metrics.StatisticsRecords != 24 || report.Metrics.WebSocketClients != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	if !report.Flags.UseSyntheticData {
		t.Fatalf("flags not reported")
	}

	s.SetStore(fixedStore(0))
	if got := s.GetHealthReport().Status; got != overallStatusDegraded {
		t.Fatalf("empty store should degrade, got %s", got)
	}
}
