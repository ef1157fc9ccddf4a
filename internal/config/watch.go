package config

import (
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// OnRegimeWarningChange is invoked with the freshly re-decoded
// RegimeWarningConfig whenever the watched file changes.
type OnRegimeWarningChange func(RegimeWarningConfig)

// Watch starts an fsnotify watch on the Loader's config file (a no-op if
// the Loader was built with an empty path) and invokes onChange with the
// re-decoded RegimeWarningConfig on every write. Only RegimeWarningConfig
// thresholds hot-reload; every other field stays fixed for the lifetime
// of the process and a restart is required to change it.
func (l *Loader) Watch(logger *zap.Logger, onChange OnRegimeWarningChange) error {
	if l.path == "" {
		return nil
	}
	logger = logger.Named("config-watch")

	l.v.OnConfigChange(func(e fsnotify.Event) {
		var rw RegimeWarningConfig
		if err := l.v.UnmarshalKey("regime_warning", &rw); err != nil {
			logger.Warn("failed to re-decode regime_warning config on change",
				zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("regime_warning config reloaded", zap.String("file", e.Name))
		onChange(rw)
	})
	l.v.WatchConfig()

	logger.Info("watching config file for regime_warning hot-reload", zap.String("path", l.path))
	return nil
}
