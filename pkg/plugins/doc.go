// Package plugins discovers plugin components in directories and hands them to
// a host.
//
// # Overview
//
// A Loader owns a scanner, a resolver and the bad file set they share.
// LoadPlugins scans each configured directory, skips components whose
// identity was already loaded earlier in the run, and asks the Host to load
// every qualifying type. After each directory it starts watching it; writes
// to matching files are scanned again and loaded as AfterStartup plugins.
//
// Host
//
//	type Host interface {
//		LoadUnit(ctx context.Context, path string) (Unit, error)
//		LoadPlugin(ctx context.Context, unit Unit, typeName, source string, mode ConnectMode)
//		Plugins() []Description
//	}
//
// Registry is an in-memory Host that records what it was asked to load.
//
// # Usage Example
//
//	registry := plugins.NewRegistry(log)
//	loader := plugins.NewLoader(plugins.Config{
//		Dirs:  []string{"/opt/app/plugins"},
//		Watch: true,
//	}, registry, log)
//	defer loader.Close()
//
//	summary, err := loader.LoadPlugins(ctx)
//	if err != nil {
//		return err
//	}
//	log.Infof("loaded %d plugins", summary.Plugins)
//
// # Rescans
//
// The directory watch is not recursive. ScheduleRescan runs Rescan on a cron
// schedule so that components in nested or newly created directories are
// still picked up.
//
// # Related Packages
//
//   - pkg/scanner: Metadata scan and concurrent directory scan
//   - pkg/resolver: Identity to file resolution
package plugins
