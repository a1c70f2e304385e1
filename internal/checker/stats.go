package checker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WriteStats renders the per-storage run statistics into a textfile for the
// node exporter's textfile collector. The monitoring side alerts on a stale
// quotareport_last_run_timestamp_seconds, which replaces an in-process
// freshness check here.
func WriteStats(path string, results map[string]*Result, now int64) error {
	registry := prometheus.NewRegistry()

	users := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quotareport_users_total",
		Help: "Users with quota records per storage.",
	}, []string{"storage"})
	usersExceeding := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quotareport_users_exceeding",
		Help: "Users over their soft limit per storage.",
	}, []string{"storage"})
	filesets := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quotareport_filesets_total",
		Help: "Filesets with quota records per storage.",
	}, []string{"storage"})
	filesetsExceeding := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quotareport_filesets_exceeding",
		Help: "Filesets over their soft limit per storage.",
	}, []string{"storage"})
	skipped := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quotareport_subjects_skipped",
		Help: "Subjects dropped after per-subject failures per storage.",
	}, []string{"storage"})
	storeFailures := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quotareport_snapshot_failures",
		Help: "Snapshot writes that failed per storage.",
	}, []string{"storage"})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quotareport_last_run_timestamp_seconds",
		Help: "Unix time of the last completed quota check run.",
	})

	registry.MustRegister(users, usersExceeding, filesets, filesetsExceeding, skipped, storeFailures, lastRun)

	for storage, res := range results {
		users.WithLabelValues(storage).Set(float64(len(res.Users)))
		usersExceeding.WithLabelValues(storage).Set(float64(len(res.ExceedingUsers())))
		filesets.WithLabelValues(storage).Set(float64(len(res.Filesets)))
		filesetsExceeding.WithLabelValues(storage).Set(float64(len(res.ExceedingFilesets())))
		skipped.WithLabelValues(storage).Set(float64(res.Skipped))
		storeFailures.WithLabelValues(storage).Set(float64(res.StoreFailures))
	}
	lastRun.Set(float64(now))

	return prometheus.WriteToTextfile(path, registry)
}
