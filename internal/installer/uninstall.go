package installer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/broadinstitute/install-gcs-connector/internal/connector"
	"github.com/broadinstitute/install-gcs-connector/internal/sparkconf"
)

// UninstallResult lists what Uninstall removed.
type UninstallResult struct {
	SparkHome   string
	RemovedJars []string
	RemovedKeys []string
}

// Uninstall deletes every connector jar and every managed configuration key.
// A missing spark-defaults.conf is not created.
func (i *Installer) Uninstall(ctx context.Context) (*UninstallResult, error) {
	home, err := i.locator.Locate(i.config.SparkHome)
	if err != nil {
		return nil, &ConfigurationError{Msg: "cannot locate Spark installation", Err: err}
	}
	result := &UninstallResult{SparkHome: home.Dir}

	i.output.Step("Removing GCS connector jars...")
	matches, err := connector.InstalledJars(i.fs, home.JarsDir())
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := i.fs.Remove(m); err != nil {
			return result, fmt.Errorf("failed to remove %s: %w", m, err)
		}
		result.RemovedJars = append(result.RemovedJars, m)
		i.output.Success("Removed %s", filepath.Base(m))
	}
	if len(matches) == 0 {
		i.output.Info("No connector jars found in %s", home.JarsDir())
	}

	path := home.DefaultsFile()
	exists, err := afero.Exists(i.fs, path)
	if err != nil {
		return result, err
	}
	if !exists {
		return result, nil
	}

	i.output.Step("Cleaning %s...", path)
	doc, err := sparkconf.Load(i.fs, path)
	if err != nil {
		return result, err
	}
	for _, k := range ManagedKeys() {
		if doc.Delete(k) {
			result.RemovedKeys = append(result.RemovedKeys, k)
		}
	}
	if len(result.RemovedKeys) == 0 {
		i.output.Info("No connector settings found")
		return result, nil
	}
	if err := doc.Save(i.fs, path); err != nil {
		return result, fmt.Errorf("unable to update spark config %s: %w", path, err)
	}
	i.output.Success("Removed %d settings", len(result.RemovedKeys))

	i.logger.Info("uninstall complete",
		zap.String("spark_home", home.Dir),
		zap.Int("jars", len(result.RemovedJars)),
		zap.Int("keys", len(result.RemovedKeys)))
	return result, nil
}
