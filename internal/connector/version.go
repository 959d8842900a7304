package connector

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is a gcs-connector release as published on Maven Central.
type Version struct {
	// Raw is the Maven version string, e.g. "hadoop3-2.2.21" or "3.0.0-RC1".
	Raw string
	// Hadoop is the Hadoop generation the jar targets.
	Hadoop int
	// Semver orders releases; release candidates become "-rc.N".
	Semver *semver.Version
}

// ParseVersion understands the three naming schemes used over time:
// "hadoopN-X.Y.Z[-RCk]", "X.Y.Z-hadoopN[-RCk]" and "X.Y.Z[-RCk]", the last
// of which targets Hadoop 3.
func ParseVersion(raw string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(raw), "-")

	var (
		hadoop int
		core   string
		rest   []string
		err    error
	)
	switch {
	case strings.HasPrefix(parts[0], "hadoop"):
		if len(parts) < 2 {
			return Version{}, fmt.Errorf("unexpected connector version %q", raw)
		}
		hadoop, err = strconv.Atoi(strings.TrimPrefix(parts[0], "hadoop"))
		core, rest = parts[1], parts[2:]
	case len(parts) > 1 && strings.HasPrefix(parts[1], "hadoop"):
		hadoop, err = strconv.Atoi(strings.TrimPrefix(parts[1], "hadoop"))
		core, rest = parts[0], parts[2:]
	default:
		hadoop = 3
		core, rest = parts[0], parts[1:]
	}
	if err != nil {
		return Version{}, fmt.Errorf("unexpected connector version %q: %w", raw, err)
	}

	if strings.Count(core, ".") != 2 {
		return Version{}, fmt.Errorf("unexpected connector version %q", raw)
	}
	canonical := core
	switch len(rest) {
	case 0:
	case 1:
		if !strings.HasPrefix(rest[0], "RC") {
			return Version{}, fmt.Errorf("unexpected connector version %q", raw)
		}
		rc, err := strconv.Atoi(strings.TrimPrefix(rest[0], "RC"))
		if err != nil {
			return Version{}, fmt.Errorf("unexpected connector version %q: %w", raw, err)
		}
		canonical += "-rc." + strconv.Itoa(rc)
	default:
		return Version{}, fmt.Errorf("unexpected connector version %q", raw)
	}

	sv, err := semver.StrictNewVersion(canonical)
	if err != nil {
		return Version{}, fmt.Errorf("unexpected connector version %q: %w", raw, err)
	}
	return Version{Raw: raw, Hadoop: hadoop, Semver: sv}, nil
}

// Latest returns the highest version for the given Hadoop generation.
// Unparseable entries are skipped.
func Latest(raw []string, hadoop int) (Version, error) {
	var versions []Version
	for _, r := range raw {
		v, err := ParseVersion(r)
		if err != nil || v.Hadoop != hadoop {
			continue
		}
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return Version{}, fmt.Errorf("no gcs-connector release for hadoop%d", hadoop)
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].Semver.LessThan(versions[j].Semver)
	})
	return versions[len(versions)-1], nil
}
