package installer

import (
	"fmt"
	"sort"
	"strings"
)

// AuthType is the value of fs.gs.auth.type understood by connector 3.x.
type AuthType string

const (
	AuthAccessTokenProvider AuthType = "ACCESS_TOKEN_PROVIDER"
	AuthApplicationDefault  AuthType = "APPLICATION_DEFAULT"
	AuthComputeEngine       AuthType = "COMPUTE_ENGINE"
	AuthServiceAccountKey   AuthType = "SERVICE_ACCOUNT_JSON_KEYFILE"
	AuthUnauthenticated     AuthType = "UNAUTHENTICATED"
	AuthUserCredentials     AuthType = "USER_CREDENTIALS"
)

var validAuthTypes = map[AuthType]bool{
	AuthAccessTokenProvider: true,
	AuthApplicationDefault:  true,
	AuthComputeEngine:       true,
	AuthServiceAccountKey:   true,
	AuthUnauthenticated:     true,
	AuthUserCredentials:     true,
}

// ParseAuthType validates s case-insensitively.
func ParseAuthType(s string) (AuthType, error) {
	a := AuthType(strings.ToUpper(strings.TrimSpace(s)))
	if !validAuthTypes[a] {
		return "", fmt.Errorf("--auth-type must be one of %s, found: %s", strings.Join(AuthTypes(), " "), s)
	}
	return a, nil
}

// AuthTypes returns the accepted auth type names in sorted order.
func AuthTypes() []string {
	names := make([]string, 0, len(validAuthTypes))
	for k := range validAuthTypes {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}

// NeedsCredentialFile reports whether the auth type points Spark at a file.
func (a AuthType) NeedsCredentialFile() bool {
	return a == AuthApplicationDefault || a == AuthServiceAccountKey
}

// Configuration keys written to spark-defaults.conf.
const (
	KeyLegacyAuthEnable     = "spark.hadoop.google.cloud.auth.service.account.enable"
	KeyLegacyKeyFile        = "spark.hadoop.google.cloud.auth.service.account.json.keyfile"
	KeyAuthType             = "spark.hadoop.fs.gs.auth.type"
	KeyServiceAccountKey    = "spark.hadoop.fs.gs.auth.service.account.json.keyfile"
	KeyExecutorCredentials  = "spark.executorEnv.GOOGLE_APPLICATION_CREDENTIALS"
	KeyRequesterPaysMode    = "spark.hadoop.fs.gs.requester.pays.mode"
	KeyRequesterPaysProject = "spark.hadoop.fs.gs.requester.pays.project.id"
)

var (
	legacyKeys = []string{KeyLegacyAuthEnable, KeyLegacyKeyFile}
	modernKeys = []string{KeyAuthType, KeyServiceAccountKey, KeyExecutorCredentials}
)

// ManagedKeys lists every key the installer may write.
func ManagedKeys() []string {
	keys := append([]string{}, legacyKeys...)
	keys = append(keys, modernKeys...)
	return append(keys, KeyRequesterPaysMode, KeyRequesterPaysProject)
}

// Setting is one key/value line.
type Setting struct {
	Key   string
	Value string
}

// Plan is the set of configuration edits for one install.
type Plan struct {
	Set    []Setting
	Delete []string
}

// CredentialKey is the key holding the credential path, or "" when the
// layout writes none.
func (p Plan) CredentialKey() string {
	for _, s := range p.Set {
		switch s.Key {
		case KeyLegacyKeyFile, KeyServiceAccountKey, KeyExecutorCredentials:
			return s.Key
		}
	}
	return ""
}

// planSettings builds the edits for a layout. Keys of the other layout and
// credential keys the chosen auth type does not use are deleted.
func planSettings(modern bool, auth AuthType, credential, requesterPaysProject string) Plan {
	var p Plan
	if !modern {
		p.Set = []Setting{
			{KeyLegacyAuthEnable, "true"},
			{KeyLegacyKeyFile, credential},
		}
	} else {
		p.Set = []Setting{{KeyAuthType, string(auth)}}
		switch auth {
		case AuthServiceAccountKey:
			p.Set = append(p.Set, Setting{KeyServiceAccountKey, credential})
		case AuthApplicationDefault:
			p.Set = append(p.Set, Setting{KeyExecutorCredentials, credential})
		}
	}

	if requesterPaysProject != "" {
		p.Set = append(p.Set,
			Setting{KeyRequesterPaysMode, "AUTO"},
			Setting{KeyRequesterPaysProject, requesterPaysProject},
		)
	}

	written := make(map[string]bool, len(p.Set))
	for _, s := range p.Set {
		written[s.Key] = true
	}
	for _, k := range append(append([]string{}, legacyKeys...), modernKeys...) {
		if !written[k] {
			p.Delete = append(p.Delete, k)
		}
	}
	return p
}
