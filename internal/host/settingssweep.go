package host

import (
	"github.com/robfig/cron/v3"

	"github.com/streamspace/pulsehost/internal/logger"
	"github.com/streamspace/pulsehost/internal/settings"
)

// SettingsSweep periodically reloads every plugin's settings from the
// backing store, guarding against files edited out-of-band on disk —
// spec.md's reload_plugin_settings ABI entry is synchronous-on-demand
// only; this repurposes the teacher's cron-driven scheduler idiom
// (internal/plugins/scheduler.go) into a standing background sweep.
type SettingsSweep struct {
	cron *cron.Cron
}

// NewSettingsSweep wires store into a cron job running on the given
// standard cron expression (e.g. "*/5 * * * *" for every five
// minutes).
func NewSettingsSweep(store settings.Store, expr string) (*SettingsSweep, error) {
	s := &SettingsSweep{cron: cron.New()}
	_, err := s.cron.AddFunc(expr, func() { sweepOnce(store) })
	if err != nil {
		return nil, err
	}
	return s, nil
}

func sweepOnce(store settings.Store) {
	log := logger.Host()
	for _, id := range store.PluginIDs() {
		if err := store.Reload(id); err != nil {
			log.Warn().Uint64("plugin_id", uint64(id)).Err(err).Msg("settings sweep: reload failed")
		}
	}
}

// Start begins the cron scheduler's background goroutine.
func (s *SettingsSweep) Start() { s.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (s *SettingsSweep) Stop() { <-s.cron.Stop().Done() }
